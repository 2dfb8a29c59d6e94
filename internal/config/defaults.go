package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultBaseURL        = "https://api.upstox.com"
	DefaultAPITimeout     = 30 * time.Second
	DefaultDBPort         = 5432
	DefaultDBSSLMode      = "prefer"
	DefaultMaxConns       = 10
	DefaultMinConns       = 2
	DefaultMigrationsDir  = "internal/database/migrations"
	DefaultPerSecond      = 45
	DefaultPerMinute      = 450
	DefaultPerHalfHour    = 1800
	DefaultWorkerCount    = 5
	DefaultFetchTimeout   = 30 * time.Second
	DefaultMaxAttempts    = 4
	DefaultRetryBaseDelay = 1 * time.Second
	DefaultRetryMaxDelay  = 60 * time.Second
	DefaultBatchSize      = 1000
	DefaultFlushInterval  = 2 * time.Second
	DefaultBufferSize     = 10000
	DefaultInterval       = "1minute"
	DefaultMonthsBack     = 3
	DefaultChunkDays      = 30
	DefaultServerPort     = 8080
)

func (c *CollectorConfig) applyDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}

	if c.Database.Port == 0 {
		c.Database.Port = DefaultDBPort
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = DefaultDBSSLMode
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = DefaultMaxConns
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = DefaultMinConns
	}
	if c.Database.MigrationsDir == "" {
		c.Database.MigrationsDir = DefaultMigrationsDir
	}

	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = DefaultPerSecond
	}
	if c.RateLimit.PerMinute == 0 {
		c.RateLimit.PerMinute = DefaultPerMinute
	}
	if c.RateLimit.PerHalfHour == 0 {
		c.RateLimit.PerHalfHour = DefaultPerHalfHour
	}

	if c.Workers.Count == 0 {
		c.Workers.Count = DefaultWorkerCount
	}
	if c.Workers.FetchTimeout == 0 {
		c.Workers.FetchTimeout = DefaultFetchTimeout
	}
	if c.Workers.MaxAttempts == 0 {
		c.Workers.MaxAttempts = DefaultMaxAttempts
	}
	if c.Workers.RetryBaseDelay == 0 {
		c.Workers.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Workers.RetryMaxDelay == 0 {
		c.Workers.RetryMaxDelay = DefaultRetryMaxDelay
	}

	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	if c.Collect.Interval == "" {
		c.Collect.Interval = DefaultInterval
	}
	if c.Collect.MonthsBack == 0 {
		c.Collect.MonthsBack = DefaultMonthsBack
	}
	if c.Collect.ChunkDays == 0 {
		c.Collect.ChunkDays = DefaultChunkDays
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
}
