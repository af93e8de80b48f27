package config

import "fmt"

// Validate checks the configuration for values that would break the
// orchestrator or dispatcher at runtime.
func (c *Config) Validate() error {
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("gateway.max_attempts must be >= 1, got %d", c.Gateway.MaxAttempts)
	}
	if c.Gateway.BaseDelay <= 0 {
		return fmt.Errorf("gateway.base_delay must be positive")
	}
	if c.Gateway.MaxDelay < c.Gateway.BaseDelay {
		return fmt.Errorf("gateway.max_delay must be >= gateway.base_delay")
	}
	if c.Gateway.BreakerThreshold < 1 {
		return fmt.Errorf("gateway.breaker_threshold must be >= 1, got %d", c.Gateway.BreakerThreshold)
	}

	if c.Review.Concurrency < 1 {
		return fmt.Errorf("review.concurrency must be >= 1, got %d", c.Review.Concurrency)
	}
	if c.Review.MaxFiles < 1 {
		return fmt.Errorf("review.max_files must be >= 1, got %d", c.Review.MaxFiles)
	}
	if c.Review.MaxBytes < 1 {
		return fmt.Errorf("review.max_bytes must be >= 1, got %d", c.Review.MaxBytes)
	}

	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher.workers must be >= 1, got %d", c.Dispatcher.Workers)
	}
	if c.Dispatcher.PollInterval <= 0 {
		return fmt.Errorf("dispatcher.poll_interval must be positive")
	}

	if c.GitHub.Owner == "" {
		return fmt.Errorf("github.owner must be set")
	}

	return nil
}
