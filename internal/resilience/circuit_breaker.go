// ABOUTME: Circuit breaker that stops calling a failing upstream for a while
// ABOUTME: Guards the batch DNS version query in long-running daemons

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default circuit breaker configuration values.
const (
	DefaultMaxFailures      = 3
	DefaultResetTimeout     = 30 * time.Minute
	DefaultHalfOpenMaxCalls = 1
)

// State is the breaker position.
type State int

const (
	// StateClosed lets calls through.
	StateClosed State = iota

	// StateOpen rejects calls until ResetTimeout has passed.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures the breaker.
type CircuitBreakerConfig struct {
	// Name identifies the guarded upstream in logs.
	Name string

	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures int

	// ResetTimeout is how long the circuit stays open before probing.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls is the number of probe calls allowed while half-open.
	HalfOpenMaxCalls int

	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Statistics is a snapshot of breaker counters.
type Statistics struct {
	State               State
	Successes           int64
	Failures            int64
	Rejections          int64
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig

	state               State
	consecutiveFailures int
	openedAt            time.Time
	halfOpenCalls       int

	successes  int64
	failures   int64
	rejections int64
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultMaxFailures
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs fn if the breaker allows it and records the outcome.
// A context cancellation is not counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		cb.release()
		return err
	}
	cb.Record(err)
	return err
}

// Allow reports whether a call may proceed and reserves a half-open slot if so.
// Callers that get true must follow up with Record.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	from := cb.state
	cb.maybeHalfOpenLocked()
	to := cb.state

	allowed := false
	switch cb.state {
	case StateClosed:
		allowed = true
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.config.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			allowed = true
		}
	}
	if !allowed {
		cb.rejections++
	}
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// Record reports the outcome of a call admitted by Allow.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	from := cb.state

	if err == nil {
		cb.successes++
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.halfOpenCalls = 0
		}
	} else {
		cb.failures++
		cb.consecutiveFailures++
		switch cb.state {
		case StateClosed:
			if cb.consecutiveFailures >= cb.config.MaxFailures {
				cb.openLocked()
			}
		case StateHalfOpen:
			cb.openLocked()
		}
	}

	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// State returns the current state, moving open to half-open once due.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	from := cb.state
	cb.maybeHalfOpenLocked()
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return to
}

// Statistics returns a snapshot of the counters.
func (cb *CircuitBreaker) Statistics() Statistics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Statistics{
		State:               cb.state,
		Successes:           cb.successes,
		Failures:            cb.failures,
		Rejections:          cb.rejections,
		ConsecutiveFailures: cb.consecutiveFailures,
		OpenedAt:            cb.openedAt,
	}
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.openedAt = time.Time{}
	cb.halfOpenCalls = 0
	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// release returns a half-open slot without recording an outcome.
func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

func (cb *CircuitBreaker) openLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.config.Now()
	cb.halfOpenCalls = 0
}

func (cb *CircuitBreaker) maybeHalfOpenLocked() {
	if cb.state != StateOpen {
		return
	}
	if cb.config.Now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
