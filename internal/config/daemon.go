// ABOUTME: Daemon configuration for scheduled update cycles and the HTTP API
// ABOUTME: Configures the interval, listen address, and retry of failed cycles

package config

import (
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
)

// DaemonConfig configures the long-running mirror.
type DaemonConfig struct {
	// Interval is how often to run an update cycle.
	Interval time.Duration `yaml:"interval"`

	// Addr is the HTTP listen address for status, trigger, and metrics.
	Addr string `yaml:"addr"`

	// RunInitialUpdate runs a cycle immediately on start.
	RunInitialUpdate bool `yaml:"run_initial_update"`

	// Retry configures retries of cycles that could not run.
	// If nil, uses DefaultRetryConfig().
	Retry *RetryConfig `yaml:"retry,omitempty"`
}

// GetRetry returns the retry configuration, using defaults if not set.
func (c *DaemonConfig) GetRetry() RetryConfig {
	if c.Retry != nil {
		return *c.Retry
	}
	return DefaultRetryConfig()
}

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the exponential backoff multiplier.
	Multiplier float64 `yaml:"multiplier"`

	// JitterFraction is the fraction of delay to randomize (0-1).
	JitterFraction float64 `yaml:"jitter_fraction"`
}

// Backoff converts the retry settings for the resilience package.
func (c RetryConfig) Backoff() resilience.BackoffConfig {
	return resilience.BackoffConfig{
		MaxRetries:     c.MaxRetries,
		InitialDelay:   c.InitialDelay,
		MaxDelay:       c.MaxDelay,
		Multiplier:     c.Multiplier,
		JitterFraction: c.JitterFraction,
	}
}

// DefaultDaemonConfig returns daemon defaults.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		Interval:         4 * time.Hour,
		Addr:             ":8080",
		RunInitialUpdate: true,
	}
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialDelay:   30 * time.Second,
		MaxDelay:       30 * time.Minute,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}
