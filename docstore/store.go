package docstore

import (
	"context"
)

// Reader is the pull-mode read side of a store. Every call returns a
// point-in-time snapshot.
type Reader interface {
	// Get returns the document or an error matching ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Document, error)
	Query(ctx context.Context, q Query) ([]Document, error)
}

// Writer mutates documents. Multi-document changes that must not be observed
// half-applied go through Commit.
type Writer interface {
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, updates ...Update) error
	Delete(ctx context.Context, collection, id string) error
	// Add stores data under a new store-assigned id and returns it.
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Commit(ctx context.Context, b *Batch) error
}

type Store interface {
	Reader
	Writer
	Close() error
}

// SnapshotFunc receives the full current result set of a subscription.
type SnapshotFunc func(docs []Document)

// ErrorFunc receives the error that terminated a subscription.
type ErrorFunc func(err error)

// Unsubscribe stops a subscription. It may be called any number of times,
// including from inside a callback.
type Unsubscribe func()

// Watcher is implemented by stores that support push mode. onSnapshot fires
// once with the current result set and again whenever it changes. Callbacks
// of one subscription never run concurrently. After onError the subscription
// is terminated. Cancelling ctx has the same effect as Unsubscribe.
type Watcher interface {
	Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error)
}

// Subscribe registers q on s when s supports push mode.
func Subscribe(ctx context.Context, s Reader, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (Unsubscribe, error) {
	w, ok := s.(Watcher)
	if !ok {
		return nil, ErrPushUnsupported
	}
	return w.Subscribe(ctx, q, onSnapshot, onError)
}
