package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *CollectorConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Name == "" {
		return errors.New("database.name is required")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.Password == "" {
		return errors.New("database.password is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) cannot exceed max_conns (%d)",
			c.Database.MinConns, c.Database.MaxConns)
	}

	if c.RateLimit.PerSecond < 1 {
		return errors.New("rate_limit.per_second must be >= 1")
	}
	if c.RateLimit.PerMinute < c.RateLimit.PerSecond {
		return errors.New("rate_limit.per_minute must be >= per_second")
	}
	if c.RateLimit.PerHalfHour < c.RateLimit.PerMinute {
		return errors.New("rate_limit.per_half_hour must be >= per_minute")
	}

	if c.Workers.Count < 1 {
		return errors.New("workers.count must be >= 1")
	}
	if c.Workers.MaxAttempts < 1 {
		return errors.New("workers.max_attempts must be >= 1")
	}
	if c.Workers.RetryBaseDelay > c.Workers.RetryMaxDelay {
		return errors.New("workers.retry_base_delay cannot exceed retry_max_delay")
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}

	if c.Collect.MonthsBack < 1 {
		return errors.New("collect.months_back must be >= 1")
	}
	if c.Collect.ChunkDays < 1 {
		return errors.New("collect.chunk_days must be >= 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}
