package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"social-service/config"
	natsClient "social-service/nats"
)

func TestDependencies(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, &config.Config{StoreBackend: config.BackendMemory})
	require.NoError(t, err)
	assert.Empty(t, dependencies(mem, nil))

	sqlite, err := openStore(ctx, &config.Config{StoreBackend: config.BackendSQLite, SQLiteDSN: ":memory:"})
	require.NoError(t, err)
	deps := dependencies(sqlite, nil)
	require.Len(t, deps, 1)
	assert.Equal(t, "store", deps[0].name)

	logger := zaptest.NewLogger(t)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkHealth(ctx, deps, time.Second, logger))
	require.NoError(t, sqlite.Close())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, checkHealth(ctx, deps, time.Second, logger))
}

func TestBrokerDependency(t *testing.T) {
	opts := natstest.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natstest.RunServer(&opts)
	defer srv.Shutdown()

	nc, err := natsClient.NewClient(natsClient.Config{
		URL:            srv.ClientURL(),
		MaxReconnects:  -1,
		ReconnectWait:  50 * time.Millisecond,
		ClientID:       t.Name(),
		EventsStream:   "HEALTH_TEST",
		EventsSubjects: []string{"health.>"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer nc.Close()

	ctx := context.Background()
	deps := dependencies(nil, nc)
	require.Len(t, deps, 1)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, checkHealth(ctx, deps, time.Second, zap.NewNop()))

	srv.Shutdown()
	assert.Eventually(t, func() bool {
		return checkHealth(ctx, deps, time.Second, zap.NewNop()) == healthpb.HealthCheckResponse_NOT_SERVING
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatchHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	deps := []dependency{{name: "fake", check: func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	}}}

	hs := health.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchHealth(ctx, hs, deps, 10*time.Millisecond, zap.NewNop())
		close(done)
	}()

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}

	tests := []struct {
		name    string
		healthy bool
		want    healthpb.HealthCheckResponse_ServingStatus
	}{
		{"serving", true, healthpb.HealthCheckResponse_SERVING},
		{"dependency down", false, healthpb.HealthCheckResponse_NOT_SERVING},
		{"recovered", true, healthpb.HealthCheckResponse_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			healthy.Store(tt.healthy)
			assert.Eventually(t, func() bool { return status() == tt.want }, 2*time.Second, 5*time.Millisecond)
		})
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health watcher did not stop")
	}
}
