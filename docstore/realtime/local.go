package realtime

import (
	"context"
	"sync"

	"social-service/docstore"
)

// LocalNotifier fans change notifications out to listeners in the same
// process.
type LocalNotifier struct {
	mu        sync.Mutex
	listeners map[string]map[int]*localListener
	nextID    int
	closed    bool
}

type localListener struct {
	onChange func()
	onError  func(error)
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{listeners: make(map[string]map[int]*localListener)}
}

func (n *LocalNotifier) Notify(_ context.Context, collections []string) error {
	n.mu.Lock()
	var targets []*localListener
	for _, c := range collections {
		for _, l := range n.listeners[c] {
			targets = append(targets, l)
		}
	}
	n.mu.Unlock()

	for _, l := range targets {
		l.onChange()
	}
	return nil
}

func (n *LocalNotifier) Listen(collection string, onChange func(), onError func(error)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, docstore.ErrClosed
	}

	id := n.nextID
	n.nextID++
	if n.listeners[collection] == nil {
		n.listeners[collection] = make(map[int]*localListener)
	}
	n.listeners[collection][id] = &localListener{onChange: onChange, onError: onError}

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners[collection], id)
		if len(n.listeners[collection]) == 0 {
			delete(n.listeners, collection)
		}
	}, nil
}

// Close terminates every listener with docstore.ErrClosed.
func (n *LocalNotifier) Close() error {
	n.mu.Lock()
	var all []*localListener
	for _, ls := range n.listeners {
		for _, l := range ls {
			all = append(all, l)
		}
	}
	n.listeners = make(map[string]map[int]*localListener)
	n.closed = true
	n.mu.Unlock()

	for _, l := range all {
		if l.onError != nil {
			l.onError(docstore.ErrClosed)
		}
	}
	return nil
}
