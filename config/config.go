package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Change notifiers used by the realtime store.
const (
	NotifierLocal = "local"
	NotifierNATS  = "nats"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string        `env:"HOST" envDefault:"postgres"`
	Port         int           `env:"PORT" envDefault:"5432"`
	User         string        `env:"USER" envDefault:"postgres"`
	Password     string        `env:"PASSWORD" envDefault:"postgres"`
	DBName       string        `env:"NAME" envDefault:"social_db"`
	SSLMode      string        `env:"SSLMODE" envDefault:"disable"`
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	MaxLifetime  time.Duration `env:"MAX_LIFETIME" envDefault:"5m"`
}

// NATSConfig configures the broker. An empty URL disables event publishing.
type NATSConfig struct {
	URL           string        `env:"URL"`
	ClientID      string        `env:"CLIENT_ID" envDefault:"social-service"`
	MaxReconnects int           `env:"MAX_RECONNECTS" envDefault:"10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT" envDefault:"2s"`
	EventsStream  string        `env:"EVENTS_STREAM" envDefault:"SOCIAL_EVENTS"`
}

// RedisConfig configures the profile cache. An empty URL disables it.
type RedisConfig struct {
	URL      string `env:"URL"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type Config struct {
	GRPCPort        string        `env:"GRPC_PORT" envDefault:"50051"`
	JWTSecret       string        `env:"JWT_SECRET" envDefault:"your-secret-key"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	HealthCheckInterval time.Duration `env:"HEALTH_CHECK_INTERVAL" envDefault:"15s"`

	StoreBackend       string `env:"STORE_BACKEND" envDefault:"memory"`
	Realtime           bool   `env:"REALTIME" envDefault:"true"`
	Notifier           string `env:"NOTIFIER" envDefault:"local"`
	SQLiteDSN          string `env:"SQLITE_DSN" envDefault:"file:social.db?cache=shared"`
	FirestoreProjectID string `env:"FIRESTORE_PROJECT_ID"`

	ProfileCacheTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`

	Database DatabaseConfig `envPrefix:"DB_"`
	NATS     NATSConfig     `envPrefix:"NATS_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
}

// Load reads the given .env files (".env" when none are named), then parses
// the environment. Variables already set win over file entries; missing
// files are ignored.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.Database.DBName == "" {
			return fmt.Errorf("database name is required (set DB_NAME)")
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("firestore backend requires FIRESTORE_PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.Notifier {
	case NotifierLocal:
	case NotifierNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats notifier requires NATS_URL")
		}
	default:
		return fmt.Errorf("unknown NOTIFIER %q", c.Notifier)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be positive")
	}
	return nil
}
