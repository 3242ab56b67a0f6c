package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	database "social-service/db"
	"social-service/docstore"
	"social-service/docstore/memory"
	"social-service/docstore/realtime"
	"social-service/docstore/sqlstore"
	"social-service/model"
)

type backend struct {
	name string
	open func(t *testing.T) docstore.Store
}

var backends = []backend{
	{"memory", func(t *testing.T) docstore.Store { return memory.New() }},
	{"sqlite", func(t *testing.T) docstore.Store {
		conn, err := database.OpenSQLite(":memory:")
		require.NoError(t, err)
		s, err := sqlstore.New(context.Background(), conn.DB)
		require.NoError(t, err)
		return s
	}},
	{"realtime", func(t *testing.T) docstore.Store {
		return realtime.New(memory.New(), realtime.NewLocalNotifier())
	}},
}

// eachBackend runs fn against a fresh store of every backend.
func eachBackend(t *testing.T, fn func(t *testing.T, store docstore.Store)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			store := b.open(t)
			t.Cleanup(func() { _ = store.Close() })
			fn(t, store)
		})
	}
}

// fixedClock returns the same instant every time so tie-breaking is visible.
type fixedClock int64

func (c fixedClock) Now() int64 { return int64(c) }

// failingStore fails every commit with a storage error.
type failingStore struct {
	docstore.Store
}

var errBackendDown = &docstore.StorageError{Op: "commit", Err: context.DeadlineExceeded}

func (failingStore) Commit(context.Context, *docstore.Batch) error { return errBackendDown }

func (f failingStore) Update(ctx context.Context, collection, id string, updates ...docstore.Update) error {
	return f.Commit(ctx, docstore.NewBatch().Update(collection, id, updates...))
}

func (f failingStore) Delete(ctx context.Context, collection, id string) error {
	return f.Commit(ctx, docstore.NewBatch().Delete(collection, id))
}

// waitFor receives from ch until ok holds or the deadline passes.
func waitFor[T any](t *testing.T, ch <-chan T, ok func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-ch:
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}

type countingLookup struct {
	mu       sync.Mutex
	calls    int
	profiles map[string]string
	err      error
}

func (l *countingLookup) LookupSummary(_ context.Context, userID string) (*models.ParticipantSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	name, ok := l.profiles[userID]
	if !ok {
		return nil, &NotFoundError{Kind: "profile", ID: userID}
	}
	return &models.ParticipantSummary{ID: userID, DisplayName: name, PhotoURL: models.DefaultPhotoURL}, nil
}
