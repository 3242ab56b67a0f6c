package main

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"social-service/docstore"
	natsClient "social-service/nats"
)

var errBrokerDisconnected = errors.New("nats connection lost")

// dependency is one backend the service needs to answer requests.
type dependency struct {
	name  string
	check func(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// dependencies lists the health checks for store and nc. Stores without a
// Ping method are not checked; nc may be nil.
func dependencies(store docstore.Store, nc *natsClient.Client) []dependency {
	var deps []dependency
	if p, ok := store.(pinger); ok {
		deps = append(deps, dependency{name: "store", check: p.Ping})
	}
	if nc != nil {
		deps = append(deps, dependency{name: "nats", check: func(context.Context) error {
			if !nc.IsConnected() {
				return errBrokerDisconnected
			}
			return nil
		}})
	}
	return deps
}

// checkHealth runs every check and reports NOT_SERVING if any fails.
func checkHealth(ctx context.Context, deps []dependency, timeout time.Duration, logger *zap.Logger) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for _, d := range deps {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := d.check(checkCtx)
		cancel()
		if err != nil {
			logger.Warn("Health check failed", zap.String("dependency", d.name), zap.Error(err))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return status
}

// watchHealth sets the overall serving status now and then every interval
// until ctx is done.
func watchHealth(ctx context.Context, hs *health.Server, deps []dependency, interval time.Duration, logger *zap.Logger) {
	current := healthpb.HealthCheckResponse_UNKNOWN
	update := func() {
		status := checkHealth(ctx, deps, interval, logger)
		if status != current {
			logger.Info("Serving status changed", zap.Stringer("status", status))
			hs.SetServingStatus("", status)
			current = status
		}
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
