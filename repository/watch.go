package repository

import (
	"context"
	"sync"

	"social-service/docstore"
)

// watch subscribes q and decodes every snapshot with decode. A decode
// failure is reported through onError and ends the subscription, like any
// other listener failure.
func watch[T any](
	ctx context.Context,
	store docstore.Reader,
	q docstore.Query,
	decode func(docstore.Document) (T, error),
	onSnapshot func([]T),
	onError func(error),
) (docstore.Unsubscribe, error) {
	if onError == nil {
		onError = func(error) {}
	}

	var (
		mu     sync.Mutex
		unsub  docstore.Unsubscribe
		failed bool
	)
	fail := func(err error) {
		mu.Lock()
		if failed {
			mu.Unlock()
			return
		}
		failed = true
		u := unsub
		mu.Unlock()

		onError(err)
		if u != nil {
			u()
		}
	}

	u, err := docstore.Subscribe(ctx, store, q, func(docs []docstore.Document) {
		items := make([]T, 0, len(docs))
		for _, d := range docs {
			item, err := decode(d)
			if err != nil {
				fail(err)
				return
			}
			items = append(items, item)
		}
		mu.Lock()
		stopped := failed
		mu.Unlock()
		if !stopped {
			onSnapshot(items)
		}
	}, func(err error) {
		fail(mapStoreError(err))
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	mu.Lock()
	unsub = u
	stop := failed
	mu.Unlock()
	if stop {
		u()
	}
	return u, nil
}
