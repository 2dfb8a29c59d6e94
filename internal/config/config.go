// Package config loads and validates the collector configuration from a
// YAML file, with ${VAR} expansion and environment overrides for secrets.
package config

import "time"

// CollectorConfig is the root configuration for a collector instance.
type CollectorConfig struct {
	Instance  InstanceConfig  `yaml:"instance"`
	API       APIConfig       `yaml:"api"`
	Database  DBConfig        `yaml:"database"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Workers   WorkersConfig   `yaml:"workers"`
	Writer    WriterConfig    `yaml:"writer"`
	Collect   CollectConfig   `yaml:"collect"`
	Server    ServerConfig    `yaml:"server"`
}

// InstanceConfig identifies this collector.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds upstream API settings.
type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	TokenExpiry time.Time     `yaml:"token_expiry"` // zero = never expires
	Timeout     time.Duration `yaml:"timeout"`
}

// DBConfig holds the PostgreSQL connection.
type DBConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Name          string `yaml:"name"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	SSLMode       string `yaml:"ssl_mode"`
	MaxConns      int    `yaml:"max_conns"`
	MinConns      int    `yaml:"min_conns"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// RateLimitConfig holds the request quota windows. All three must be set
// below the upstream's published limits.
type RateLimitConfig struct {
	PerSecond   int `yaml:"per_second"`
	PerMinute   int `yaml:"per_minute"`
	PerHalfHour int `yaml:"per_half_hour"`
}

// WorkersConfig holds worker pool and retry settings.
type WorkersConfig struct {
	Count          int           `yaml:"count"`
	FetchTimeout   time.Duration `yaml:"fetch_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// CollectConfig holds collection shape defaults, overridable per run.
type CollectConfig struct {
	Interval   string `yaml:"interval"`
	MonthsBack int    `yaml:"months_back"`
	ChunkDays  int    `yaml:"chunk_days"`
}

// ServerConfig holds the control API server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}
