package nats

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"social-service/docstore"
)

const (
	DefaultChangePrefix = "docstore.changed"

	flushTimeout = 5 * time.Second
)

// ChangeNotifier carries document store change notifications over NATS so
// that subscribers in other processes see writes made here.
type ChangeNotifier struct {
	client *Client
	prefix string
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[int]*changeListener
	nextID    int
	closed    bool
}

type changeListener struct {
	sub      *nats.Subscription
	onChange func()
	onError  func(error)
}

func NewChangeNotifier(client *Client, prefix string) *ChangeNotifier {
	if prefix == "" {
		prefix = DefaultChangePrefix
	}
	n := &ChangeNotifier{
		client:    client,
		prefix:    prefix,
		logger:    client.logger,
		listeners: make(map[int]*changeListener),
	}
	client.OnClosed(n.closeAll)
	// Notifications sent while disconnected are lost, so every listener
	// refreshes after a reconnect.
	client.OnReconnected(n.wakeAll)
	return n
}

// Subject maps a collection path onto a NATS subject.
func (n *ChangeNotifier) Subject(collection string) string {
	segments := strings.Split(collection, "/")
	for i, s := range segments {
		segments[i] = strings.Map(func(r rune) rune {
			switch r {
			case '.', '*', '>', ' ', '\t', '\n', '\r':
				return '_'
			}
			return r
		}, s)
	}
	return n.prefix + "." + strings.Join(segments, ".")
}

func (n *ChangeNotifier) Notify(ctx context.Context, collections []string) error {
	for _, c := range collections {
		if err := n.client.conn.Publish(n.Subject(c), nil); err != nil {
			return fmt.Errorf("failed to publish change for %s: %w", c, err)
		}
	}
	var err error
	if _, ok := ctx.Deadline(); ok {
		err = n.client.conn.FlushWithContext(ctx)
	} else {
		err = n.client.conn.FlushTimeout(flushTimeout)
	}
	if err != nil {
		return fmt.Errorf("failed to flush change notifications: %w", err)
	}
	return nil
}

func (n *ChangeNotifier) Listen(collection string, onChange func(), onError func(error)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, docstore.ErrClosed
	}

	sub, err := n.client.Subscribe(n.Subject(collection), func(*nats.Msg) { onChange() })
	if err != nil {
		return nil, err
	}
	// The interest must reach the server before the caller's first read.
	if err := n.client.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("failed to register listener for %s: %w", collection, err)
	}

	id := n.nextID
	n.nextID++
	n.listeners[id] = &changeListener{sub: sub, onChange: onChange, onError: onError}

	return func() {
		n.mu.Lock()
		l, ok := n.listeners[id]
		delete(n.listeners, id)
		n.mu.Unlock()
		if ok {
			if err := l.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
				n.logger.Debug("unsubscribe failed", zap.Error(err))
			}
		}
	}, nil
}

func (n *ChangeNotifier) snapshot() []*changeListener {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*changeListener, 0, len(n.listeners))
	for _, l := range n.listeners {
		out = append(out, l)
	}
	return out
}

func (n *ChangeNotifier) wakeAll() {
	for _, l := range n.snapshot() {
		l.onChange()
	}
}

func (n *ChangeNotifier) closeAll() {
	n.mu.Lock()
	all := make([]*changeListener, 0, len(n.listeners))
	for _, l := range n.listeners {
		all = append(all, l)
	}
	n.listeners = make(map[int]*changeListener)
	n.closed = true
	n.mu.Unlock()

	for _, l := range all {
		if l.onError != nil {
			l.onError(fmt.Errorf("nats connection closed: %w", docstore.ErrClosed))
		}
	}
}
