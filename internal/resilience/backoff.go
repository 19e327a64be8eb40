// ABOUTME: Exponential backoff with jitter between download attempts
// ABOUTME: Bounded attempt count and a context-aware Wait for retry loops

package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// Default backoff configuration values. Retries of a truncated transfer are
// meant to be quick, so delays stay in the sub-second to seconds range.
const (
	DefaultMaxRetries     = 2
	DefaultInitialDelay   = 500 * time.Millisecond
	DefaultMaxDelay       = 5 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitterFraction = 0.2
)

// ErrRetriesExhausted is returned by Wait once no retries remain.
var ErrRetriesExhausted = errors.New("retries exhausted")

// BackoffConfig configures exponential backoff behavior.
type BackoffConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero uses DefaultMaxRetries; negative disables retries.
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Multiplier grows the delay after each retry. Must be >= 1.
	Multiplier float64

	// JitterFraction adds ±fraction randomness. Zero disables jitter.
	JitterFraction float64
}

// Validate checks if the configuration is valid.
func (c *BackoffConfig) Validate() error {
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return errors.New("jitter fraction must be between 0 and 1")
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	return nil
}

func (c *BackoffConfig) applyDefaults() {
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
}

// DefaultBackoffConfig returns a BackoffConfig with all defaults applied.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialDelay:   DefaultInitialDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		JitterFraction: DefaultJitterFraction,
	}
}

// Backoff tracks retries for one operation. Not reusable across operations
// without Reset.
type Backoff struct {
	mu           sync.Mutex
	config       BackoffConfig
	attempts     int
	currentDelay time.Duration
}

// NewBackoff creates a Backoff. Zero values in config use defaults.
func NewBackoff(config BackoffConfig) *Backoff {
	config.applyDefaults()
	return &Backoff{
		config:       config,
		currentDelay: config.InitialDelay,
	}
}

// NextDelay returns the delay before the next retry and whether one remains.
func (b *Backoff) NextDelay() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts >= b.config.MaxRetries {
		return 0, false
	}

	delay := b.currentDelay
	if b.config.JitterFraction > 0 {
		spread := float64(delay) * b.config.JitterFraction
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*spread)
	}

	b.attempts++
	next := time.Duration(float64(b.currentDelay) * b.config.Multiplier)
	if next > b.config.MaxDelay {
		next = b.config.MaxDelay
	}
	b.currentDelay = next

	return delay, true
}

// Wait sleeps for the next delay. Returns ErrRetriesExhausted when no retries
// remain, or the context error if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	delay, ok := b.NextDelay()
	if !ok {
		return ErrRetriesExhausted
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset restores the initial state.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts = 0
	b.currentDelay = b.config.InitialDelay
}

// Attempts returns the number of retries taken so far.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
