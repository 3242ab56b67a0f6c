// Package storetest holds the behaviour every docstore backend must share.
// Backend packages call Run (and RunWatcher for push-capable stores) from
// their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"social-service/docstore"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) docstore.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore) })
	t.Run("SetGet", func(t *testing.T) { testSetGet(t, newStore) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, newStore) })
	t.Run("Transforms", func(t *testing.T) { testTransforms(t, newStore) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore) })
	t.Run("Add", func(t *testing.T) { testAdd(t, newStore) })
	t.Run("Query", func(t *testing.T) { testQuery(t, newStore) })
	t.Run("CommitAtomic", func(t *testing.T) { testCommitAtomic(t, newStore) })
	t.Run("CreateExisting", func(t *testing.T) { testCreateExisting(t, newStore) })
	t.Run("ConditionalUpdate", func(t *testing.T) { testConditionalUpdate(t, newStore) })
}

func open(t *testing.T, newStore Factory) docstore.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testGetMissing(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	doc, err := s.Get(context.Background(), "users", "nobody")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	assert.Nil(t, doc)
	assert.False(t, docstore.IsStorageError(err))

	var nf *docstore.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "nobody", nf.ID)
}

func testSetGet(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	data := map[string]any{
		"username":  "alice",
		"createdAt": int64(1700000000123456789),
		"ratio":     0.25,
		"active":    true,
		"followers": []any{"u2", "u3"},
		"privacySettings": map[string]any{
			"hideFollowers": false,
			"hideFollowing": true,
		},
		"bio": nil,
	}
	require.NoError(t, s.Set(ctx, "users", "u1", data))

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.ID)
	assert.Equal(t, data, doc.Data)

	require.NoError(t, s.Set(ctx, "users", "u1", map[string]any{"username": "alice2"}))
	doc, err = s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"username": "alice2"}, doc.Data)

	// returned data is a copy
	doc.Data["username"] = "mallory"
	again, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", again.Data["username"])
}

func testUpdate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	require.NoError(t, s.Set(ctx, "users", "u1", map[string]any{
		"displayName":     "Alice",
		"bio":             "hello",
		"privacySettings": map[string]any{"hideFollowers": false, "hideFollowing": false},
	}))
	require.NoError(t, s.Update(ctx, "users", "u1",
		docstore.Update{Path: "bio", Value: "updated"},
		docstore.Update{Path: "privacySettings.hideFollowers", Value: true},
	))

	doc, err := s.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", doc.Data["displayName"])
	assert.Equal(t, "updated", doc.Data["bio"])
	assert.Equal(t, map[string]any{"hideFollowers": true, "hideFollowing": false}, doc.Data["privacySettings"])

	err = s.Update(ctx, "users", "missing", docstore.Update{Path: "bio", Value: "x"})
	require.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = s.Get(ctx, "users", "missing")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func testTransforms(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	require.NoError(t, s.Set(ctx, "posts", "p1", map[string]any{
		"likes":        int64(0),
		"commentsData": []any{},
		"tags":         []any{"a", "b"},
		"draft":        true,
	}))
	require.NoError(t, s.Update(ctx, "posts", "p1",
		docstore.Update{Path: "likes", Value: docstore.Increment(2)},
		docstore.Update{Path: "commentsData", Value: docstore.ArrayUnion(map[string]any{"id": "c1", "content": "hi"})},
		docstore.Update{Path: "tags", Value: docstore.ArrayRemove("a")},
		docstore.Update{Path: "draft", Value: docstore.DeleteField},
	))
	require.NoError(t, s.Update(ctx, "posts", "p1",
		docstore.Update{Path: "likes", Value: docstore.Increment(-1)},
		docstore.Update{Path: "commentsData", Value: docstore.ArrayUnion(map[string]any{"id": "c1", "content": "hi"})},
		docstore.Update{Path: "tags", Value: docstore.ArrayUnion("b", "c")},
	))

	doc, err := s.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Data["likes"])
	assert.Equal(t, []any{map[string]any{"id": "c1", "content": "hi"}}, doc.Data["commentsData"])
	assert.Equal(t, []any{"b", "c"}, doc.Data["tags"])
	assert.NotContains(t, doc.Data, "draft")
}

func testDelete(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	require.NoError(t, s.Set(ctx, "liveSessions", "s1", map[string]any{"title": "t"}))
	require.NoError(t, s.Delete(ctx, "liveSessions", "s1"))
	require.NoError(t, s.Delete(ctx, "liveSessions", "s1"))
	require.NoError(t, s.Delete(ctx, "liveSessions", "never"))

	_, err := s.Get(ctx, "liveSessions", "s1")
	require.ErrorIs(t, err, docstore.ErrNotFound)
}

func testAdd(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	messages := docstore.Path("conversations", "c1", "messages")
	var added []string
	for _, text := range []string{"one", "two", "three"} {
		id, err := s.Add(ctx, messages, map[string]any{"text": text})
		require.NoError(t, err)
		require.NotEmpty(t, id)
		added = append(added, id)
	}

	docs, err := s.Query(ctx, docstore.From(messages))
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for i, d := range docs {
		assert.Equal(t, added[i], d.ID)
	}
	assert.Equal(t, "three", docs[2].Data["text"])

	other, err := s.Query(ctx, docstore.From(docstore.Path("conversations", "c2", "messages")))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func testQuery(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	seed := []struct {
		id           string
		participants []any
		ts           int64
	}{
		{"c1", []any{"u1", "u2"}, 100},
		{"c2", []any{"u1", "u3"}, 300},
		{"c3", []any{"u2", "u3"}, 200},
		{"c4", []any{"u1", "u4"}, 300},
	}
	for _, c := range seed {
		require.NoError(t, s.Set(ctx, "conversations", c.id, map[string]any{
			"participantIds": c.participants,
			"timestamp":      c.ts,
		}))
	}
	require.NoError(t, s.Set(ctx, "conversations", "c5", map[string]any{"participantIds": []any{"u1"}}))

	byUser := docstore.From("conversations").
		Where("participantIds", docstore.OpArrayContains, "u1").
		OrderBy("timestamp", docstore.Desc)

	docs, err := s.Query(ctx, byUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"c4", "c2", "c1"}, docIDs(docs))

	docs, err = s.Query(ctx, byUser.WithLimit(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"c4", "c2"}, docIDs(docs))

	docs, err = s.Query(ctx, byUser.StartAfter("c2", 300).WithLimit(2))
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, docIDs(docs))

	docs, err = s.Query(ctx, docstore.From("conversations").
		Where("timestamp", docstore.OpGreaterEqual, 200).
		OrderBy("timestamp", docstore.Asc))
	require.NoError(t, err)
	assert.Equal(t, []string{"c3", "c2", "c4"}, docIDs(docs))

	docs, err = s.Query(ctx, docstore.From("empty"))
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = s.Query(ctx, docstore.From("conversations").Where("", docstore.OpEqual, 1))
	require.ErrorIs(t, err, docstore.ErrInvalidQuery)
}

// RunQueryShapes checks that a store answers a range of query shapes,
// including mixed value kinds and null comparisons, exactly as
// docstore.Apply does over the same documents. Firestore applies its own
// rules to some of these shapes and does not run it.
func RunQueryShapes(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	seed := []docstore.Document{
		{ID: "a", Data: map[string]any{"n": int64(3), "s": "pear", "b": true, "tags": []any{"x", int64(1)}, "meta": map[string]any{"rank": int64(2)}}},
		{ID: "b", Data: map[string]any{"n": 1.5, "s": "Apple", "b": false, "tags": []any{"y"}, "meta": map[string]any{"rank": int64(1)}}},
		{ID: "c", Data: map[string]any{"n": int64(3), "s": "apple", "b": true, "tags": []any{true}}},
		{ID: "d", Data: map[string]any{"n": "3", "s": "zebra", "tags": "x"}},
		{ID: "e", Data: map[string]any{"n": nil, "s": "", "b": false, "tags": []any{}}},
		{ID: "f", Data: map[string]any{"n": int64(-7), "s": "pearl", "meta": map[string]any{"rank": int64(2)}}},
		{ID: "g", Data: map[string]any{"n": int64(1760000000123456789), "s": "\u00e9clair", "b": true}},
		{ID: "h", Data: map[string]any{"n": []any{int64(1)}, "s": "pear"}},
		{ID: "i", Data: map[string]any{"n": map[string]any{"k": int64(1)}, "s": "pear"}},
		{ID: "j", Data: map[string]any{"s": "plum", "tags": []any{"x"}}},
	}
	for _, d := range seed {
		require.NoError(t, s.Set(ctx, "shapes", d.ID, d.Data))
	}

	from := docstore.From("shapes")
	tests := []struct {
		name string
		q    docstore.Query
	}{
		{"all", from},
		{"equal number", from.Where("n", docstore.OpEqual, 3)},
		{"equal float and int", from.Where("n", docstore.OpEqual, 3.0)},
		{"equal string", from.Where("s", docstore.OpEqual, "pear")},
		{"equal bool", from.Where("b", docstore.OpEqual, true)},
		{"equal null", from.Where("n", docstore.OpEqual, nil)},
		{"not equal", from.Where("n", docstore.OpNotEqual, 3)},
		{"not equal null", from.Where("n", docstore.OpNotEqual, nil)},
		{"number range", from.Where("n", docstore.OpGreater, 1).Where("n", docstore.OpLessEqual, 3)},
		{"string prefix", from.Where("s", docstore.OpGreaterEqual, "pea").Where("s", docstore.OpLess, "pea\uf8ff")},
		{"bool range", from.Where("b", docstore.OpGreater, false)},
		{"null range", from.Where("n", docstore.OpLessEqual, nil)},
		{"array contains string", from.Where("tags", docstore.OpArrayContains, "x")},
		{"array contains number", from.Where("tags", docstore.OpArrayContains, 1)},
		{"array contains bool", from.Where("tags", docstore.OpArrayContains, true)},
		{"nested field", from.Where("meta.rank", docstore.OpEqual, 2).OrderBy("s", docstore.Desc)},
		{"array value filter", from.Where("n", docstore.OpEqual, []any{1})},
		{"mixed kinds ascending", from.OrderBy("n", docstore.Asc)},
		{"mixed kinds descending", from.OrderBy("n", docstore.Desc)},
		{"mixed kinds limited", from.OrderBy("n", docstore.Asc).WithLimit(8)},
		{"mixed kinds descending limited", from.OrderBy("n", docstore.Desc).WithLimit(3)},
		{"string order bytewise", from.OrderBy("s", docstore.Asc)},
		{"two orders", from.OrderBy("s", docstore.Asc).OrderBy("n", docstore.Desc)},
		{"ties break by id descending", from.Where("s", docstore.OpEqual, "pear").OrderBy("s", docstore.Desc)},
		{"limit only", from.WithLimit(3)},
		{"cursor on id", from.StartAfter("c").WithLimit(4)},
		{"cursor on number", from.OrderBy("n", docstore.Asc).StartAfter("a", 3).WithLimit(2)},
		{"cursor on null", from.OrderBy("n", docstore.Asc).StartAfter("e", nil)},
		{"cursor descending", from.OrderBy("s", docstore.Desc).StartAfter("h", "pear").WithLimit(3)},
		{"cursor two orders", from.OrderBy("b", docstore.Desc).OrderBy("n", docstore.Asc).StartAfter("c", true, 3)},
		{"cursor on array", from.OrderBy("n", docstore.Asc).StartAfter("h", []any{1}).WithLimit(1)},
		{"filter order cursor limit", from.Where("b", docstore.OpEqual, true).OrderBy("n", docstore.Desc).StartAfter("g", 1760000000123456789).WithLimit(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := docstore.Apply(tt.q, seed)
			require.NoError(t, err)
			got, err := s.Query(ctx, tt.q)
			require.NoError(t, err)
			assert.Equal(t, docIDs(want), docIDs(got))
		})
	}
}

func testCommitAtomic(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	require.NoError(t, s.Set(ctx, "conversations", "c1", map[string]any{"lastMessage": ""}))

	b := docstore.NewBatch().
		Set(docstore.Path("conversations", "c1", "messages"), "m1", map[string]any{"text": "hi"}).
		Update("conversations", "c1", docstore.Update{Path: "lastMessage", Value: "hi"}).
		Update("conversations", "missing", docstore.Update{Path: "lastMessage", Value: "hi"})
	require.NoError(t, b.Err())

	err := s.Commit(ctx, b)
	require.ErrorIs(t, err, docstore.ErrNotFound)

	_, err = s.Get(ctx, docstore.Path("conversations", "c1", "messages"), "m1")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	doc, err := s.Get(ctx, "conversations", "c1")
	require.NoError(t, err)
	assert.Equal(t, "", doc.Data["lastMessage"])

	b = docstore.NewBatch().
		Set(docstore.Path("conversations", "c1", "messages"), "m1", map[string]any{"text": "hi"}).
		Update("conversations", "c1", docstore.Update{Path: "lastMessage", Value: "hi"})
	require.NoError(t, s.Commit(ctx, b))

	doc, err = s.Get(ctx, "conversations", "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", doc.Data["lastMessage"])
	_, err = s.Get(ctx, docstore.Path("conversations", "c1", "messages"), "m1")
	require.NoError(t, err)

	bad := docstore.NewBatch().Set("users", "u1", map[string]any{"x": make(chan int)})
	require.ErrorIs(t, s.Commit(ctx, bad), docstore.ErrInvalidValue)
}

func testCreateExisting(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	require.NoError(t, s.Commit(ctx, docstore.NewBatch().Create("usernames", "alice", map[string]any{"userId": "u1"})))

	b := docstore.NewBatch().
		Create("users", "u2", map[string]any{"username": "alice"}).
		Create("usernames", "alice", map[string]any{"userId": "u2"})
	err := s.Commit(ctx, b)
	require.ErrorIs(t, err, docstore.ErrAlreadyExists)

	_, err = s.Get(ctx, "users", "u2")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	doc, err := s.Get(ctx, "usernames", "alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", doc.Data["userId"])
}

func testConditionalUpdate(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	messages := docstore.Path("conversations", "c1", "messages")

	require.NoError(t, s.Set(ctx, "conversations", "c1", map[string]any{"lastMessage": "new", "timestamp": int64(200)}))
	require.NoError(t, s.Set(ctx, "posts", "p1", map[string]any{"likes": int64(0)}))

	tests := []struct {
		name      string
		batch     *docstore.Batch
		wantErr   error
		wantLast  string
		wantStamp int64
		wantMsg   bool
	}{
		{
			name: "skipped when stored is newer",
			batch: docstore.NewBatch().
				Create(messages, "m1", map[string]any{"text": "old"}).
				UpdateWhen("conversations", "c1", docstore.Filter{Path: "timestamp", Op: docstore.OpLessEqual, Value: int64(100)},
					docstore.Update{Path: "lastMessage", Value: "old"},
					docstore.Update{Path: "timestamp", Value: int64(100)}),
			wantLast: "new", wantStamp: 200, wantMsg: true,
		},
		{
			name: "applied when stored is older",
			batch: docstore.NewBatch().
				Create(messages, "m2", map[string]any{"text": "newer"}).
				UpdateWhen("conversations", "c1", docstore.Filter{Path: "timestamp", Op: docstore.OpLessEqual, Value: int64(300)},
					docstore.Update{Path: "lastMessage", Value: "newer"},
					docstore.Update{Path: "timestamp", Value: int64(300)}),
			wantLast: "newer", wantStamp: 300, wantMsg: true,
		},
		{
			name: "failed precondition aborts the batch",
			batch: docstore.NewBatch().
				Create(messages, "m3", map[string]any{"text": "never"}).
				UpdateIf("conversations", "c1", docstore.Filter{Path: "missing", Op: docstore.OpEqual, Value: true},
					docstore.Update{Path: "lastMessage", Value: "never"}),
			wantErr:  docstore.ErrFailedPrecondition,
			wantLast: "newer", wantStamp: 300,
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.batch.Err())
			err := s.Commit(ctx, tt.batch)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.False(t, docstore.IsStorageError(err))
			} else {
				require.NoError(t, err)
			}

			doc, err := s.Get(ctx, "conversations", "c1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantLast, doc.Data["lastMessage"])
			assert.Equal(t, tt.wantStamp, doc.Data["timestamp"])

			_, err = s.Get(ctx, messages, fmt.Sprintf("m%d", i+1))
			if tt.wantMsg {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, docstore.ErrNotFound)
			}
		})
	}

	positive := docstore.Filter{Path: "likes", Op: docstore.OpGreater, Value: 0}
	decrement := docstore.Update{Path: "likes", Value: docstore.Increment(-1)}
	err := s.Commit(ctx, docstore.NewBatch().UpdateIf("posts", "p1", positive, decrement))
	require.ErrorIs(t, err, docstore.ErrFailedPrecondition)
	var pe *docstore.PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "p1", pe.ID)

	require.NoError(t, s.Update(ctx, "posts", "p1", docstore.Update{Path: "likes", Value: docstore.Increment(1)}))
	require.NoError(t, s.Commit(ctx, docstore.NewBatch().UpdateIf("posts", "p1", positive, decrement)))
	doc, err := s.Get(ctx, "posts", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Data["likes"])

	err = s.Commit(ctx, docstore.NewBatch().UpdateIf("posts", "ghost", positive, decrement))
	require.ErrorIs(t, err, docstore.ErrNotFound)

	bad := docstore.NewBatch().UpdateWhen("posts", "p1", docstore.Filter{Path: "likes", Op: "~"}, decrement)
	require.ErrorIs(t, bad.Err(), docstore.ErrInvalidQuery)
}

func docIDs(docs []docstore.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

// RunWatcher checks push-mode behaviour. The factory's stores must implement
// docstore.Watcher.
func RunWatcher(t *testing.T, newStore Factory) {
	t.Run("FirstSnapshot", func(t *testing.T) { testFirstSnapshot(t, newStore) })
	t.Run("Changes", func(t *testing.T) { testChanges(t, newStore) })
	t.Run("Unsubscribe", func(t *testing.T) { testUnsubscribe(t, newStore) })
	t.Run("ContextCancel", func(t *testing.T) { testContextCancel(t, newStore) })
}

// WaitTimeout bounds how long the push suite waits for a callback.
var WaitTimeout = 5 * time.Second

type recorder struct {
	mu        sync.Mutex
	snapshots [][]docstore.Document
	errs      []error
	changed   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{changed: make(chan struct{}, 64)}
}

func (r *recorder) onSnapshot(docs []docstore.Document) {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, docs)
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snapshots)
}

// waitFor blocks until the latest snapshot satisfies ok.
func (r *recorder) waitFor(t *testing.T, ok func([]docstore.Document) bool) []docstore.Document {
	t.Helper()
	deadline := time.After(WaitTimeout)
	for {
		r.mu.Lock()
		var last []docstore.Document
		has := len(r.snapshots) > 0
		if has {
			last = r.snapshots[len(r.snapshots)-1]
		}
		r.mu.Unlock()
		if has && ok(last) {
			return last
		}
		select {
		case <-r.changed:
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			return nil
		}
	}
}

func subscribe(t *testing.T, s docstore.Store, ctx context.Context, q docstore.Query, r *recorder) docstore.Unsubscribe {
	t.Helper()
	w, ok := s.(docstore.Watcher)
	require.True(t, ok, "store does not implement docstore.Watcher")
	unsub, err := w.Subscribe(ctx, q, r.onSnapshot, r.onError)
	require.NoError(t, err)
	t.Cleanup(unsub)
	return unsub
}

func testFirstSnapshot(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)
	require.NoError(t, s.Set(ctx, "posts", "p1", map[string]any{"timestamp": int64(1)}))

	r := newRecorder()
	subscribe(t, s, ctx, docstore.From("posts").OrderBy("timestamp", docstore.Desc), r)
	docs := r.waitFor(t, func(d []docstore.Document) bool { return len(d) == 1 })
	assert.Equal(t, "p1", docs[0].ID)

	empty := newRecorder()
	subscribe(t, s, ctx, docstore.From("liveSessions"), empty)
	empty.waitFor(t, func(d []docstore.Document) bool { return len(d) == 0 })
}

func testChanges(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	r := newRecorder()
	subscribe(t, s, ctx, docstore.From("posts").OrderBy("timestamp", docstore.Desc), r)
	r.waitFor(t, func(d []docstore.Document) bool { return len(d) == 0 })

	require.NoError(t, s.Set(ctx, "posts", "p1", map[string]any{"timestamp": int64(1), "likes": int64(0)}))
	require.NoError(t, s.Set(ctx, "posts", "p2", map[string]any{"timestamp": int64(2), "likes": int64(0)}))
	docs := r.waitFor(t, func(d []docstore.Document) bool { return len(d) == 2 })
	assert.Equal(t, []string{"p2", "p1"}, docIDs(docs))

	require.NoError(t, s.Update(ctx, "posts", "p1", docstore.Update{Path: "likes", Value: docstore.Increment(1)}))
	r.waitFor(t, func(d []docstore.Document) bool {
		return len(d) == 2 && docstore.Equal(d[1].Data["likes"], int64(1))
	})

	require.NoError(t, s.Delete(ctx, "posts", "p2"))
	docs = r.waitFor(t, func(d []docstore.Document) bool { return len(d) == 1 })
	assert.Equal(t, "p1", docs[0].ID)

	r.mu.Lock()
	assert.Empty(t, r.errs)
	r.mu.Unlock()
}

func testUnsubscribe(t *testing.T, newStore Factory) {
	ctx := context.Background()
	s := open(t, newStore)

	r := newRecorder()
	unsub := subscribe(t, s, ctx, docstore.From("posts"), r)
	r.waitFor(t, func(d []docstore.Document) bool { return len(d) == 0 })

	unsub()
	unsub()
	settled := r.count()

	require.NoError(t, s.Set(ctx, "posts", "p1", map[string]any{"timestamp": int64(1)}))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, r.count())
}

func testContextCancel(t *testing.T, newStore Factory) {
	s := open(t, newStore)
	ctx, cancel := context.WithCancel(context.Background())

	r := newRecorder()
	subscribe(t, s, ctx, docstore.From("posts"), r)
	r.waitFor(t, func(d []docstore.Document) bool { return len(d) == 0 })

	cancel()
	time.Sleep(100 * time.Millisecond)
	settled := r.count()

	require.NoError(t, s.Set(context.Background(), "posts", "p1", map[string]any{"timestamp": int64(1)}))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, settled, r.count())
}
