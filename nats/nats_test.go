package nats_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natstest "github.com/nats-io/nats-server/v2/test"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"social-service/docstore"
	"social-service/docstore/memory"
	"social-service/docstore/realtime"
	"social-service/docstore/storetest"
	"social-service/nats"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	s := natstest.RunServer(&opts)
	t.Cleanup(s.Shutdown)
	return s
}

func newClient(t *testing.T, s *server.Server) *nats.Client {
	t.Helper()
	c, err := nats.NewClient(nats.Config{
		URL:            s.ClientURL(),
		MaxReconnects:  -1,
		ReconnectWait:  50 * time.Millisecond,
		ClientID:       t.Name(),
		EventsStream:   "SOCIAL_TEST",
		EventsSubjects: []string{"post.>"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestClientPublishSubscribe(t *testing.T) {
	c := newClient(t, runServer(t))

	got := make(chan map[string]string, 1)
	_, err := c.Subscribe("post.created", func(msg *natsgo.Msg) {
		var payload map[string]string
		if err := nats.DecodeEvent(msg, &payload); err == nil {
			got <- payload
		}
	})
	require.NoError(t, err)

	require.NoError(t, c.Publish("post.created", map[string]string{"post_id": "p1"}))

	select {
	case payload := <-got:
		assert.Equal(t, "p1", payload["post_id"])
	case <-time.After(storetest.WaitTimeout):
		t.Fatal("event not received")
	}
}

func TestClientPublishRejectsUnencodable(t *testing.T) {
	c := newClient(t, runServer(t))
	assert.Error(t, c.Publish("post.created", make(chan int)))
}

func TestEnsureStreamIsIdempotent(t *testing.T) {
	c := newClient(t, runServer(t))
	require.NoError(t, c.EnsureStream("SOCIAL_TEST", []string{"post.>"}))
}

func TestSubjectMapping(t *testing.T) {
	c := newClient(t, runServer(t))
	n := nats.NewChangeNotifier(c, "")

	tests := []struct {
		collection string
		want       string
	}{
		{"posts", "docstore.changed.posts"},
		{"conversations/c1/messages", "docstore.changed.conversations.c1.messages"},
		{"odd.name*>", "docstore.changed.odd_name__"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Subject(tt.collection))
	}
}

func TestChangeNotifierPush(t *testing.T) {
	s := runServer(t)
	c := newClient(t, s)
	n := nats.NewChangeNotifier(c, "")

	factory := func(t *testing.T) docstore.Store {
		return realtime.New(memory.New(), n)
	}
	storetest.RunWatcher(t, factory)
}

func TestNotifyReachesOtherConnection(t *testing.T) {
	s := runServer(t)
	listener := nats.NewChangeNotifier(newClient(t, s), "")
	writer := nats.NewChangeNotifier(newClient(t, s), "")

	var hits atomic.Int32
	cancel, err := listener.Listen("posts", func() { hits.Add(1) }, nil)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, writer.Notify(context.Background(), []string{"posts", "users"}))
	require.Eventually(t, func() bool { return hits.Load() == 1 }, storetest.WaitTimeout, 10*time.Millisecond)

	cancel()
	cancel()
	require.NoError(t, writer.Notify(context.Background(), []string{"posts"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), hits.Load())
}

func TestCloseFailsListeners(t *testing.T) {
	s := runServer(t)
	c := newClient(t, s)
	n := nats.NewChangeNotifier(c, "")

	failed := make(chan error, 1)
	_, err := n.Listen("posts", func() {}, func(err error) { failed <- err })
	require.NoError(t, err)

	c.Close()

	select {
	case err := <-failed:
		assert.True(t, errors.Is(err, docstore.ErrClosed))
	case <-time.After(storetest.WaitTimeout):
		t.Fatal("listener not failed on close")
	}

	require.Eventually(t, func() bool {
		_, err := n.Listen("posts", func() {}, nil)
		return errors.Is(err, docstore.ErrClosed)
	}, storetest.WaitTimeout, 10*time.Millisecond)
}
