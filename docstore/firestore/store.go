// Package firestore is a Cloud Firestore backend. It supports pull reads and
// native push subscriptions built on query snapshot listeners.
package firestore

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"social-service/docstore"
)

type Store struct {
	client *firestore.Client
}

// New connects to projectID. When FIRESTORE_EMULATOR_HOST is set the client
// talks to the emulator.
func New(ctx context.Context, projectID string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, docstore.WrapStorage("connect", "", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) col(collection string) *firestore.CollectionRef {
	return s.client.Collection(collection)
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	snap, err := s.col(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError("get", collection, id, err)
	}
	return toDocument(collection, snap)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	fq, err := s.build(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, mapError("query", q.Collection, "", err)
	}
	return toDocuments(q.Collection, snaps)
}

// build translates q into a Firestore query. The document id is added as the
// final order so that ties break the same way on every backend.
func (s *Store) build(q docstore.Query) (firestore.Query, error) {
	q, err := q.Validate()
	if err != nil {
		return firestore.Query{}, err
	}

	fq := s.col(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Path, string(f.Op), f.Value)
	}

	tie := firestore.Asc
	for _, o := range q.Orders {
		dir := firestore.Asc
		if o.Direction == docstore.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Path, dir)
		tie = dir
	}
	fq = fq.OrderBy(firestore.DocumentID, tie)

	if q.After != nil {
		values := append(append([]any(nil), q.After.Values...), q.After.ID)
		fq = fq.StartAfter(values...)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq, nil
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

// Commit runs the batch in a single transaction attempt. Every created or
// updated document is read first so that failures name the offending
// document and guarded updates see the stored data.
func (s *Store) Commit(ctx context.Context, b *docstore.Batch) error {
	if err := b.Err(); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	writes := b.Writes()

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		exists := make(map[string]bool)
		current := make(map[string]map[string]any)
		for _, w := range writes {
			if w.Kind != docstore.WriteCreate && w.Kind != docstore.WriteUpdate {
				continue
			}
			key := docstore.Path(w.Collection, w.ID)
			if _, seen := exists[key]; seen {
				continue
			}
			snap, err := tx.Get(s.col(w.Collection).Doc(w.ID))
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			exists[key] = snap != nil && snap.Exists()
			if exists[key] {
				data, err := docstore.NormalizeMap(snap.Data())
				if err != nil {
					return err
				}
				current[key] = data
			}
		}

		for _, w := range writes {
			ref := s.col(w.Collection).Doc(w.ID)
			key := docstore.Path(w.Collection, w.ID)
			switch w.Kind {
			case docstore.WriteCreate:
				if exists[key] {
					return &docstore.ExistsError{Collection: w.Collection, ID: w.ID}
				}
				if err := tx.Create(ref, w.Data); err != nil {
					return err
				}
				exists[key] = true
				current[key] = w.Data
			case docstore.WriteSet:
				if err := tx.Set(ref, w.Data); err != nil {
					return err
				}
				exists[key] = true
				current[key] = w.Data
			case docstore.WriteUpdate:
				if !exists[key] {
					return &docstore.NotFoundError{Collection: w.Collection, ID: w.ID}
				}
				apply, err := w.Check(current[key])
				if err != nil {
					return err
				}
				if !apply {
					continue
				}
				if err := tx.Update(ref, toUpdates(w.Updates)); err != nil {
					return err
				}
				current[key] = docstore.ApplyUpdates(current[key], w.Updates)
			case docstore.WriteDelete:
				if err := tx.Delete(ref); err != nil {
					return err
				}
				exists[key] = false
				delete(current, key)
			}
		}
		return nil
	}, firestore.MaxAttempts(1))
	if err != nil {
		return mapError("commit", "", "", err)
	}
	return nil
}

func toUpdates(updates []docstore.Update) []firestore.Update {
	out := make([]firestore.Update, len(updates))
	for i, u := range updates {
		var v any
		switch t := u.Value.(type) {
		case docstore.ArrayUnionValue:
			v = firestore.ArrayUnion(t.Elements...)
		case docstore.ArrayRemoveValue:
			v = firestore.ArrayRemove(t.Elements...)
		case docstore.IncrementValue:
			v = firestore.Increment(t.By)
		default:
			if docstore.IsDeleteField(t) {
				v = firestore.Delete
			} else {
				v = t
			}
		}
		out[i] = firestore.Update{Path: u.Path, Value: v}
	}
	return out
}

// Subscribe listens to q with a Firestore snapshot listener.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) (docstore.Unsubscribe, error) {
	fq, err := s.build(q)
	if err != nil {
		return nil, err
	}

	d := docstore.NewDispatcher(onSnapshot, onError)
	subCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			d.Stop()
			cancel()
		})
	}

	go func() {
		defer unsubscribe()
		it := fq.Snapshots(subCtx)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if subCtx.Err() == nil {
					d.Fail(mapError("listen", q.Collection, "", err))
					<-d.Done()
				}
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err == nil {
				var docs []docstore.Document
				docs, err = toDocuments(q.Collection, snaps)
				if err == nil {
					d.Snapshot(docs)
					continue
				}
			}
			d.Fail(err)
			<-d.Done()
			return
		}
	}()

	return unsubscribe, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func toDocument(collection string, snap *firestore.DocumentSnapshot) (*docstore.Document, error) {
	data, err := docstore.NormalizeMap(snap.Data())
	if err != nil {
		return nil, docstore.WrapStorage("decode", collection, fmt.Errorf("document %s: %w", snap.Ref.ID, err))
	}
	return &docstore.Document{ID: snap.Ref.ID, Data: data}, nil
}

func toDocuments(collection string, snaps []*firestore.DocumentSnapshot) ([]docstore.Document, error) {
	docs := make([]docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		doc, err := toDocument(collection, snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func mapError(op, collection, id string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return &docstore.NotFoundError{Collection: collection, ID: id}
	case codes.AlreadyExists:
		return &docstore.ExistsError{Collection: collection, ID: id}
	}
	return docstore.WrapStorage(op, collection, err)
}
