// Package config provides centralized configuration management for the application.
// Values are layered from struct-tag defaults, an optional YAML file,
// environment variables and command-line flags, then validated so a bad
// setting fails fast.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Schema   SchemaConfig   `koanf:"schema"`
	Packing  PackingConfig  `koanf:"packing"`
	Load     LoadConfig     `koanf:"load"`
	Parse    ParseConfig    `koanf:"parse"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Commands that touch the
	// database require it; parse and split do not.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `koanf:"url" env:"DATABASE_URL" envAlt:"DB_URL"`

	MaxConns        int           `koanf:"max_conns" env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `koanf:"min_conns" env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `koanf:"max_conn_lifetime" env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `koanf:"max_conn_idle_time" env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// SchemaConfig names the PostgreSQL schemas used.
type SchemaConfig struct {
	// Data holds one table per record type.
	Data string `koanf:"data" env:"SURVEYLOAD_DATA_SCHEMA" default:"dhs_data_tables"`

	// Metadata holds the flattened dictionaries and the load history.
	Metadata string `koanf:"metadata" env:"SURVEYLOAD_META_SCHEMA" default:"dhs_metadata"`
}

// PackingConfig controls when new tables are packed into a document column.
type PackingConfig struct {
	// Threshold is the declared column count above which a table is packed.
	Threshold int `koanf:"threshold" env:"SURVEYLOAD_PACK_THRESHOLD" default:"500"`

	// CountrySpecific lists tables that are always packed (comma-separated in env).
	CountrySpecific []string `koanf:"country_specific" env:"SURVEYLOAD_COUNTRY_SPECIFIC"`
}

// LoadConfig holds load settings.
type LoadConfig struct {
	// DryRun plans DDL and loads without executing them (default: true).
	DryRun bool `koanf:"dry_run" env:"SURVEYLOAD_DRY_RUN" default:"true"`

	// ReloadOnModification replaces a survey's rows when its table changed
	// in this run even though the row count did not grow.
	ReloadOnModification bool `koanf:"reload_on_modification" env:"SURVEYLOAD_RELOAD_ON_MODIFICATION" default:"false"`

	// Workers is how many tables of one file load concurrently (default: 1)
	Workers int `koanf:"workers" env:"SURVEYLOAD_WORKERS" default:"1"`

	// BatchSize is the number of rows per INSERT statement (default: 1000)
	BatchSize int `koanf:"batch_size" env:"SURVEYLOAD_BATCH_SIZE" default:"1000"`

	// IssueLimit caps the line issues kept per data file (default: 100)
	IssueLimit int `koanf:"issue_limit" env:"SURVEYLOAD_ISSUE_LIMIT" default:"100"`

	// Timeout bounds a whole run (default: 30m)
	Timeout time.Duration `koanf:"timeout" env:"SURVEYLOAD_TIMEOUT" default:"30m"`
}

// ParseConfig holds dictionary and data decoding settings.
type ParseConfig struct {
	// ExpandRanges is All, Multiple or None.
	ExpandRanges string `koanf:"expand_ranges" env:"SURVEYLOAD_EXPAND_RANGES" default:"All"`

	// RangeLimit is the largest range expanded value by value.
	RangeLimit int `koanf:"range_limit" env:"SURVEYLOAD_RANGE_LIMIT" default:"10000"`

	// FallbackEncoding decodes files that are not UTF-8.
	FallbackEncoding string `koanf:"fallback_encoding" env:"SURVEYLOAD_FALLBACK_ENCODING" default:"windows-1252"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host" env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `koanf:"port" env:"SERVER_PORT" default:"8080"`

	ReadTimeout     time.Duration `koanf:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `koanf:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `koanf:"request_timeout" env:"SERVER_REQUEST_TIMEOUT" default:"60s"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `koanf:"trusted_proxies" env:"TRUSTED_PROXIES"`

	// APIKeys is a comma-separated list of valid API keys
	APIKeys []string `koanf:"api_keys" env:"API_KEYS"`

	// RequireAPIKey enables API key authentication (default: false)
	RequireAPIKey bool `koanf:"require_api_key" env:"REQUIRE_API_KEY" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `koanf:"level" env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `koanf:"format" env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
