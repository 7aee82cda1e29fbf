// Package config loads the service configuration from environment variables,
// applying defaults and validating everything on startup so misconfiguration
// fails fast.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Export   ExportConfig
	Mapping  MappingConfig
	Media    MediaConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout stays 0: archive downloads stream for as long as they take.
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"4"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// Migrate applies pending schema migrations on startup.
	Migrate bool `env:"DB_MIGRATE" default:"true"`
}

// ExportConfig holds archive export settings.
type ExportConfig struct {
	// Dir is the root of per-project, per-user export directories.
	Dir string `env:"EXPORT_DIR" default:"./exports"`

	PageSize       int `env:"EXPORT_PAGE_SIZE" default:"500"`
	CSVChunkRows   int `env:"EXPORT_CSV_CHUNK_ROWS" default:"1000"`
	JSONChunkBytes int `env:"EXPORT_JSON_CHUNK_BYTES" default:"1048576"`

	// MaxConcurrent bounds export runs across all users.
	MaxConcurrent int           `env:"EXPORT_MAX_CONCURRENT" default:"3"`
	MaxWaitTime   time.Duration `env:"EXPORT_MAX_WAIT_TIME" default:"30s"`
	Timeout       time.Duration `env:"EXPORT_TIMEOUT" default:"30m"`

	// Retention is how long a finished archive is kept before cleanup.
	Retention       time.Duration `env:"EXPORT_RETENTION" default:"24h"`
	CleanupInterval time.Duration `env:"EXPORT_CLEANUP_INTERVAL" default:"1h"`
}

// MappingConfig holds column mapping settings.
type MappingConfig struct {
	MaxColumnLength int `env:"MAPPING_MAX_COLUMN_LENGTH" default:"20"`
}

// MediaConfig holds media link settings.
type MediaConfig struct {
	// BaseURL prefixes media links written for public projects.
	BaseURL string `env:"MEDIA_BASE_URL" default:"http://localhost:8080"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ExportLimit is the per-IP export requests allowed per minute.
	ExportLimit int `env:"RATE_LIMIT_EXPORT" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	RequireAPIKey bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys       []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json
	Format string `env:"LOG_FORMAT" default:"text"`

	// File, when set, receives a rotated copy of the log stream.
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" default:"100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS" default:"5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" default:"30"`
	Compress   bool   `env:"LOG_COMPRESS" default:"true"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
