package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"social-service/config"
	"social-service/docstore"
	"social-service/docstore/realtime"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	for _, backend := range []string{config.BackendMemory, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			cfg := &config.Config{StoreBackend: backend, SQLiteDSN: ":memory:"}
			store, err := openStore(ctx, cfg)
			require.NoError(t, err)
			defer store.Close()

			require.NoError(t, store.Set(ctx, "posts", "p1", map[string]any{"content": "hi"}))
			doc, err := store.Get(ctx, "posts", "p1")
			require.NoError(t, err)
			assert.Equal(t, "hi", doc.Data["content"])
		})
	}

	_, err := openStore(ctx, &config.Config{StoreBackend: "mongo"})
	assert.Error(t, err)
}

func TestWithRealtime(t *testing.T) {
	ctx := context.Background()
	base, err := openStore(ctx, &config.Config{StoreBackend: config.BackendMemory})
	require.NoError(t, err)

	off := withRealtime(&config.Config{Realtime: false}, base, nil, zap.NewNop())
	_, ok := off.(docstore.Watcher)
	assert.False(t, ok)

	on := withRealtime(&config.Config{Realtime: true, Notifier: config.NotifierLocal}, base, nil, zap.NewNop())
	_, ok = on.(*realtime.Store)
	assert.True(t, ok)

	again := withRealtime(&config.Config{Realtime: true}, on, nil, zap.NewNop())
	assert.Same(t, on, again)
}
