package docstore

import (
	"sync"
)

// Dispatcher delivers the callbacks of one subscription on its own
// goroutine. Pending snapshots are coalesced: a slow consumer only sees the
// latest result set. A failure is delivered after any pending snapshot and
// ends the dispatcher.
type Dispatcher struct {
	onSnapshot SnapshotFunc
	onError    ErrorFunc

	mu         sync.Mutex
	pending    []Document
	hasPending bool
	err        error

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(onSnapshot SnapshotFunc, onError ErrorFunc) *Dispatcher {
	if onSnapshot == nil {
		onSnapshot = func([]Document) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	d := &Dispatcher{
		onSnapshot: onSnapshot,
		onError:    onError,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

// Snapshot queues docs for delivery, replacing any undelivered snapshot.
func (d *Dispatcher) Snapshot(docs []Document) {
	d.mu.Lock()
	if d.err != nil {
		d.mu.Unlock()
		return
	}
	d.pending = docs
	d.hasPending = true
	d.mu.Unlock()
	d.signal()
}

// Fail queues err as the terminal callback. Only the first failure counts.
func (d *Dispatcher) Fail(err error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	if d.err != nil {
		d.mu.Unlock()
		return
	}
	d.err = err
	d.mu.Unlock()
	d.signal()
}

// Stop ends delivery. No callback starts after Stop returns. It is
// idempotent and safe to call from a callback.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// Done is closed when the delivery goroutine exits.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Stopped is closed by Stop or after a failure has been delivered.
func (d *Dispatcher) Stopped() <-chan struct{} {
	return d.stop
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) stopped() bool {
	select {
	case <-d.stop:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}

		d.mu.Lock()
		docs, has, err := d.pending, d.hasPending, d.err
		d.pending, d.hasPending = nil, false
		d.mu.Unlock()

		if has && !d.stopped() {
			d.onSnapshot(docs)
		}
		if err != nil {
			if !d.stopped() {
				d.onError(err)
			}
			d.Stop()
			return
		}
	}
}
