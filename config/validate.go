package config

import "github.com/teranos/tempo/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port <= 0 {
		return errors.Newf("server.port must be positive, got %d (omit for default %d)", *c.Server.Port, DefaultServerPort)
	}

	// Engine poll interval: 0 = engine disabled, negative = invalid
	if c.Engine.PollIntervalMS < 0 {
		return errors.Newf("engine.poll_interval_ms must be >= 0, got %d", c.Engine.PollIntervalMS)
	}
	if c.Engine.BatchSize <= 0 {
		return errors.Newf("engine.batch_size must be > 0, got %d", c.Engine.BatchSize)
	}
	if c.Engine.DispatchTimeoutSeconds < 0 {
		return errors.Newf("engine.dispatch_timeout_seconds must be >= 0, got %d", c.Engine.DispatchTimeoutSeconds)
	}

	// Workers: 0 = no background workers, negative = invalid
	if c.Workers.Count < 0 {
		return errors.Newf("workers.count must be >= 0, got %d", c.Workers.Count)
	}
	if c.Workers.PollIntervalSeconds < 0 {
		return errors.Newf("workers.poll_interval_seconds must be >= 0, got %d", c.Workers.PollIntervalSeconds)
	}
	if c.Workers.RatePerSecond < 0 {
		return errors.Newf("workers.rate_per_second must be >= 0, got %f", c.Workers.RatePerSecond)
	}

	return nil
}
