// Package config provides centralized configuration management for the roster service.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Retry    RetryConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is 0 so progress streams are not cut off
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds graceful shutdown, including waiting for ingests (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// AcquireTimeout bounds every pool acquire and the wait for the writer lock
	// held by another process (default: 10s). Writers in one process queue in
	// memory first. When several processes ingest against one database, keep
	// the other processes' chunk time under this value or their chunks fail
	// as Locked once retries run out.
	AcquireTimeout time.Duration `env:"DB_ACQUIRE_TIMEOUT" default:"10s"`

	// LockTimeout is how long a writer waits for a row lock before the attempt
	// fails as Locked and is retried (default: 2s)
	LockTimeout time.Duration `env:"DB_LOCK_TIMEOUT" default:"2s"`

	// WriterLockKey is the advisory lock key that serializes writers
	WriterLockKey int64 `env:"DB_WRITER_LOCK_KEY" default:"72010"`

	// MigrateOnStart applies pending migrations when the server boots (default: true)
	MigrateOnStart bool `env:"DB_MIGRATE_ON_START" default:"true"`
}

// IngestConfig holds roster ingestion settings.
type IngestConfig struct {
	// MaxFileSize is the maximum allowed roster size in bytes (default: 100MiB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"104857600"`

	// TransformBatchSize is the number of rows transformed per batch (default: 100)
	TransformBatchSize int `env:"INGEST_TRANSFORM_BATCH_SIZE" default:"100"`

	// ChunkSize is the number of rows a worker applies in one transaction (default: 500)
	ChunkSize int `env:"INGEST_CHUNK_SIZE" default:"500"`

	// Workers is the apply pool size; 0 means max(NumCPU, 4)
	Workers int `env:"INGEST_WORKERS" default:"0"`

	// MaxConcurrent is the number of ingest runs allowed at once (default: 2)
	MaxConcurrent int `env:"INGEST_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long a request waits for an ingest slot (default: 30s)
	MaxWaitTime time.Duration `env:"INGEST_MAX_WAIT_TIME" default:"30s"`

	// Timeout is the maximum duration of one ingest run (default: 30m)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"30m"`

	// WatchDir enables scheduled ingestion of *.csv files dropped in this directory
	WatchDir string `env:"INGEST_WATCH_DIR"`

	// WatchSchedule is the cron spec for the watch-folder scan (default: every 5 minutes)
	WatchSchedule string `env:"INGEST_WATCH_SCHEDULE" default:"@every 5m"`
}

// RetryConfig holds the backoff policy for Busy/Locked store errors.
type RetryConfig struct {
	InitialDelay time.Duration `env:"INGEST_RETRY_INITIAL" default:"50ms"`
	Base         int           `env:"INGEST_RETRY_BASE" default:"2"`
	MaxDelay     time.Duration `env:"INGEST_RETRY_MAX" default:"1s"`
	MaxAttempts  int           `env:"INGEST_RETRY_MAX_ATTEMPTS" default:"5"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// CORSOrigins is a comma-separated list of allowed browser origins
	CORSOrigins []string `env:"CORS_ORIGINS"`

	// RequireAuth enables basic auth on mutating routes (default: false)
	RequireAuth bool `env:"REQUIRE_AUTH" default:"false"`

	// AuthUsers is a comma-separated list of user:bcrypt-hash pairs
	AuthUsers []string `env:"AUTH_USERS"`

	// RateLimit is the requests allowed per client IP per minute; 0 disables (default: 300)
	RateLimit int `env:"RATE_LIMIT_PER_MINUTE" default:"300"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// WorkerCount resolves the apply pool size.
func (c *IngestConfig) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return max(runtime.NumCPU(), 4)
}
