// Package realtime adds push-mode subscriptions to any pull-mode store.
// Writes made through the wrapper publish the touched collections on a
// Notifier; subscribers re-run their query when their collection changes and
// receive the new result set if it differs from the last one delivered.
package realtime

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"social-service/docstore"
)

// Notifier carries change notifications between writers and subscribers,
// possibly across processes.
type Notifier interface {
	Notify(ctx context.Context, collections []string) error
	// Listen calls onChange after every notification for collection until
	// the returned cancel func is called. onError reports that the listener
	// is gone for good.
	Listen(collection string, onChange func(), onError func(error)) (cancel func(), err error)
}

type Store struct {
	docstore.Store
	notifier Notifier
	logger   *zap.Logger
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func New(store docstore.Store, notifier Notifier, opts ...Option) *Store {
	s := &Store{
		Store:    store,
		notifier: notifier,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	return s.Commit(ctx, docstore.NewBatch().Set(collection, id, data))
}

func (s *Store) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	return s.Commit(ctx, docstore.NewBatch().Update(collection, id, updates...))
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.Commit(ctx, docstore.NewBatch().Delete(collection, id))
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := docstore.NewID()
	if err := s.Commit(ctx, docstore.NewBatch().Create(collection, id, data)); err != nil {
		return "", err
	}
	return id, nil
}

// Commit writes through to the wrapped store and then notifies. The write
// has already happened when notification fails, so that failure is logged
// rather than returned.
func (s *Store) Commit(ctx context.Context, b *docstore.Batch) error {
	if err := s.Store.Commit(ctx, b); err != nil {
		return err
	}
	if err := s.notifier.Notify(ctx, b.Collections()); err != nil {
		s.logger.Warn("change notification failed",
			zap.Strings("collections", b.Collections()),
			zap.Error(err),
		)
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	if _, err := q.Validate(); err != nil {
		return nil, err
	}

	sub := &subscription{
		store:      s.Store,
		query:      q,
		dispatcher: docstore.NewDispatcher(onSnapshot, onError),
		wake:       make(chan struct{}, 1),
	}
	sub.ctx, sub.cancel = context.WithCancel(ctx)

	stopListening, err := s.notifier.Listen(q.Collection, sub.signal, func(err error) {
		sub.dispatcher.Fail(&docstore.StorageError{Op: "listen", Collection: q.Collection, Err: err})
	})
	if err != nil {
		sub.cancel()
		sub.dispatcher.Stop()
		return nil, docstore.WrapStorage("listen", q.Collection, err)
	}
	sub.stopListening = stopListening

	go sub.run()
	return sub.unsubscribe, nil
}

type subscription struct {
	store         docstore.Reader
	query         docstore.Query
	dispatcher    *docstore.Dispatcher
	wake          chan struct{}
	ctx           context.Context
	cancel        context.CancelFunc
	stopListening func()
	once          sync.Once
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) unsubscribe() {
	s.once.Do(func() {
		s.dispatcher.Stop()
		s.cancel()
		s.stopListening()
	})
}

func (s *subscription) run() {
	defer s.unsubscribe()

	var last []docstore.Document
	first := true
	for {
		docs, err := s.store.Query(s.ctx, s.query)
		if err != nil {
			if s.ctx.Err() == nil {
				s.dispatcher.Fail(fmt.Errorf("refresh %s: %w", s.query.Collection, err))
				<-s.dispatcher.Done()
			}
			return
		}
		if first || !docstore.SameDocuments(last, docs) {
			s.dispatcher.Snapshot(docs)
			last, first = docs, false
		}

		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		case <-s.dispatcher.Stopped():
			return
		}
	}
}
