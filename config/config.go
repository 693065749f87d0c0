package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	// SyncEmbedded runs the source scheduler inside the server process.
	SyncEmbedded = "embedded"
	// SyncWorker leaves syncing to cmd/worker; the server only enqueues refreshes.
	SyncWorker = "worker"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Store       StoreConfig
	Sync        SyncConfig
	HostedVideo HostedVideoConfig
	AIPresenter AIPresenterConfig
	Reconcile   ReconcileConfig
	Telemetry   TelemetryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string        `env:"PORT" envDefault:"8080"`
	ReadTimeout        time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout       time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout    time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `env:"DATABASE_URL"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName   string `env:"DB_NAME" envDefault:"livesync"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"25"`
}

// DSN returns DATABASE_URL when set, otherwise a keyword DSN built from the parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis:
// change events stay in process and refreshes cannot be queued.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds JWT signing settings.
type JWTConfig struct {
	Secret string        `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	Issuer string        `env:"JWT_ISSUER" envDefault:"livesync"`
	TTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`
}

// StoreConfig selects the live session store.
type StoreConfig struct {
	Driver     string `env:"STORE_DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"file:livesync.db"`
}

// SyncConfig controls the source scheduler.
type SyncConfig struct {
	Mode                    string        `env:"SYNC_MODE" envDefault:"embedded"`
	InitialDelay            time.Duration `env:"SYNC_INITIAL_DELAY" envDefault:"3s"`
	ManualBroadcastInterval time.Duration `env:"SYNC_MANUAL_BROADCAST_INTERVAL" envDefault:"25s"`
	HostedVideoInterval     time.Duration `env:"SYNC_HOSTED_VIDEO_INTERVAL" envDefault:"120s"`
	AIPresenterInterval     time.Duration `env:"SYNC_AI_PRESENTER_INTERVAL" envDefault:"60s"`
	// EngineTick is how often each viewer re-evaluates time based rules.
	EngineTick time.Duration `env:"ENGINE_TICK" envDefault:"1m"`
}

// HostedVideoConfig holds the video host credentials. Without them the hosted
// video source reports an auth error on every sync.
type HostedVideoConfig struct {
	APIKey     string `env:"HOSTED_VIDEO_API_KEY"`
	ChannelID  string `env:"HOSTED_VIDEO_CHANNEL_ID"`
	AccessTier string `env:"HOSTED_VIDEO_ACCESS_TIER" envDefault:"free"`
	CourseRef  string `env:"HOSTED_VIDEO_COURSE_REF"`
}

// AIPresenterConfig holds the AI presenter status endpoint.
type AIPresenterConfig struct {
	StatusURL string `env:"AI_PRESENTER_STATUS_URL"`
	APIKey    string `env:"AI_PRESENTER_API_KEY"`
}

// ReconcileConfig holds the selection windows.
type ReconcileConfig struct {
	ManualBroadcastWindow time.Duration `env:"WINDOW_MANUAL_BROADCAST" envDefault:"180m"`
	HostedVideoWindow     time.Duration `env:"WINDOW_HOSTED_VIDEO" envDefault:"90m"`
	AIPresenterWindow     time.Duration `env:"WINDOW_AI_PRESENTER" envDefault:"120m"`
	Lookahead             time.Duration `env:"WINDOW_LOOKAHEAD" envDefault:"15m"`
	Grace                 time.Duration `env:"WINDOW_GRACE" envDefault:"5m"`
}

// TelemetryConfig enables OTLP trace export.
type TelemetryConfig struct {
	Endpoint    string  `env:"OTEL_EXPORTER_ENDPOINT"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"livesync"`
	SampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
}

// Load reads .env if present, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	c.Sync.Mode = strings.ToLower(strings.TrimSpace(c.Sync.Mode))
	switch c.Sync.Mode {
	case SyncEmbedded:
	case SyncWorker:
		if c.Redis.Addr == "" {
			return fmt.Errorf("SYNC_MODE=worker needs REDIS_ADDR")
		}
		if c.Store.Driver != StorePostgres {
			return fmt.Errorf("SYNC_MODE=worker needs a shared postgres store")
		}
	default:
		return fmt.Errorf("unknown SYNC_MODE %q", c.Sync.Mode)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	return nil
}
