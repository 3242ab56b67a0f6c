// Package memory is an in-process pull-mode document store. Each Store is an
// independent instance; nothing is shared between instances.
package memory

import (
	"context"
	"sync"

	"social-service/docstore"
)

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	closed      bool
}

func New() *Store {
	return &Store{collections: make(map[string]map[string]map[string]any)}
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, docstore.WrapStorage("get", collection, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &docstore.StorageError{Op: "get", Collection: collection, Err: errClosed}
	}
	data, ok := s.collections[collection][id]
	if !ok {
		return nil, &docstore.NotFoundError{Collection: collection, ID: id}
	}
	return &docstore.Document{ID: id, Data: docstore.CloneMap(data)}, nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, docstore.WrapStorage("query", q.Collection, err)
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, &docstore.StorageError{Op: "query", Collection: q.Collection, Err: errClosed}
	}
	docs := make([]docstore.Document, 0, len(s.collections[q.Collection]))
	for id, data := range s.collections[q.Collection] {
		docs = append(docs, docstore.Document{ID: id, Data: docstore.CloneMap(data)})
	}
	s.mu.RUnlock()
	return docstore.Apply(q, docs)
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

// Commit applies the batch to a staged copy of the touched collections and
// swaps it in only when every write succeeded.
func (s *Store) Commit(ctx context.Context, b *docstore.Batch) error {
	if err := b.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return docstore.WrapStorage("commit", "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &docstore.StorageError{Op: "commit", Err: errClosed}
	}

	staged := make(map[string]map[string]map[string]any)
	stage := func(collection string) map[string]map[string]any {
		if c, ok := staged[collection]; ok {
			return c
		}
		c := make(map[string]map[string]any, len(s.collections[collection]))
		for id, data := range s.collections[collection] {
			c[id] = data
		}
		staged[collection] = c
		return c
	}

	for _, w := range b.Writes() {
		c := stage(w.Collection)
		switch w.Kind {
		case docstore.WriteCreate:
			if _, ok := c[w.ID]; ok {
				return &docstore.ExistsError{Collection: w.Collection, ID: w.ID}
			}
			c[w.ID] = docstore.CloneMap(w.Data)
		case docstore.WriteSet:
			c[w.ID] = docstore.CloneMap(w.Data)
		case docstore.WriteUpdate:
			current, ok := c[w.ID]
			if !ok {
				return &docstore.NotFoundError{Collection: w.Collection, ID: w.ID}
			}
			apply, err := w.Check(current)
			if err != nil {
				return err
			}
			if !apply {
				continue
			}
			c[w.ID] = docstore.ApplyUpdates(current, w.Updates)
		case docstore.WriteDelete:
			delete(c, w.ID)
		}
	}

	for name, c := range staged {
		if len(c) == 0 {
			delete(s.collections, name)
			continue
		}
		s.collections[name] = c
	}
	return nil
}

// Close makes every later call fail with a StorageError.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.collections = nil
	return nil
}
