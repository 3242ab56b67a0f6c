package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"social-service/cache"
	_ "social-service/codec"
	"social-service/config"
	database "social-service/db"
	"social-service/docstore"
	"social-service/docstore/firestore"
	"social-service/docstore/memory"
	"social-service/docstore/realtime"
	"social-service/docstore/sqlstore"
	"social-service/events"
	"social-service/handler"
	"social-service/interceptor"
	"social-service/logging"
	natsClient "social-service/nats"
	"social-service/publisher"
	"social-service/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Social service stopped", zap.Error(err))
	}
}

type closer func()

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cleanups []closer
	defer func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, func() {
		if err := store.Close(); err != nil {
			logger.Warn("Failed to close document store", zap.Error(err))
		}
	})
	logger.Info("Document store ready", zap.String("backend", cfg.StoreBackend))

	var nc *natsClient.Client
	if cfg.NATS.URL != "" {
		nc, err = natsClient.NewClient(natsClient.Config{
			URL:            cfg.NATS.URL,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ClientID:       cfg.NATS.ClientID,
			EventsStream:   cfg.NATS.EventsStream,
			EventsSubjects: events.Subjects,
		}, logger)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, nc.Close)
	}

	deps := dependencies(store, nc)
	store = withRealtime(cfg, store, nc, logger)

	var sink publisher.Sink = publisher.Discard
	if nc != nil {
		sink = nc
	}
	pub := publisher.NewEventPublisher(sink, logger)

	profiles := repository.NewProfileRepository(store)
	var (
		lookup      repository.ProfileLookup = profiles
		invalidator handler.ProfileInvalidator
	)
	if cfg.Redis.URL != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanups = append(cleanups, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The cache degrades to direct lookups, so Redis is not fatal.
			logger.Warn("Redis unreachable, profile cache will miss", zap.Error(err))
		}
		cached := cache.NewCachedLookup(profiles, cache.NewProfileCache(rdb, cfg.ProfileCacheTTL), logger)
		lookup, invalidator = cached, cached
	}

	authInterceptor := interceptor.NewAuthInterceptor(cfg.JWTSecret, handler.PublicMethods)
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(authInterceptor.Unary()),
		grpc.StreamInterceptor(authInterceptor.Stream()),
	)

	handler.Register(grpcServer,
		handler.NewProfileHandler(profiles, pub, invalidator, logger),
		handler.NewPostHandler(repository.NewPostRepository(store), pub, logger),
		handler.NewMessagingHandler(repository.NewConversationRepository(store, lookup), pub, logger),
		handler.NewLiveHandler(repository.NewLiveSessionRepository(store), pub, logger),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go watchHealth(healthCtx, healthServer, deps, cfg.HealthCheckInterval, logger)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.GRPCPort, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Social service gRPC server listening", zap.String("port", cfg.GRPCPort))
		serveErr <- grpcServer.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Social service shutting down gracefully...")
	stopHealth()
	healthServer.Shutdown()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.Warn("Graceful stop timed out, closing connections")
		grpcServer.Stop()
	}

	logger.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		conn, err := database.OpenSQLite(cfg.SQLiteDSN)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(ctx, conn.DB)
	case config.BackendPostgres:
		dbCfg := cfg.Database
		conn, err := database.NewConnection(database.Config{
			Host:         dbCfg.Host,
			Port:         dbCfg.Port,
			User:         dbCfg.User,
			Password:     dbCfg.Password,
			DBName:       dbCfg.DBName,
			SSLMode:      dbCfg.SSLMode,
			MaxOpenConns: dbCfg.MaxOpenConns,
			MaxIdleConns: dbCfg.MaxIdleConns,
			MaxLifetime:  dbCfg.MaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return sqlstore.New(ctx, conn.DB)
	case config.BackendFirestore:
		return firestore.New(ctx, cfg.FirestoreProjectID)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// withRealtime adds push subscriptions to pull-only backends. Firestore
// pushes natively and is returned as is.
func withRealtime(cfg *config.Config, store docstore.Store, nc *natsClient.Client, logger *zap.Logger) docstore.Store {
	if !cfg.Realtime {
		return store
	}
	if _, ok := store.(docstore.Watcher); ok {
		return store
	}

	var notifier realtime.Notifier = realtime.NewLocalNotifier()
	if cfg.Notifier == config.NotifierNATS && nc != nil {
		notifier = natsClient.NewChangeNotifier(nc, "")
	}
	return realtime.New(store, notifier, realtime.WithLogger(logger))
}
