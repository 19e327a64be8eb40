// ABOUTME: Scheduler running update cycles on an interval and on demand
// ABOUTME: Manages the daemon lifecycle, manual triggers, and retries of failed cycles

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
)

// DefaultInterval is how often the daemon runs a cycle.
const DefaultInterval = 4 * time.Hour

// Cycler runs one update cycle.
type Cycler interface {
	Run(ctx context.Context, only ...string) (*CycleResult, error)
}

// SchedulerConfig configures the scheduler.
type SchedulerConfig struct {
	// Interval between scheduled cycles.
	Interval time.Duration

	// RunInitialUpdate runs a cycle immediately on Start.
	RunInitialUpdate bool

	// RetryConfig retries cycles that could not run at all, e.g. when the
	// metadata store is briefly unavailable. Per-database failures are not
	// retried; cooldowns decide when those databases are tried again.
	RetryConfig resilience.BackoffConfig

	// AfterCycle is called after every cycle, e.g. to rotate log files.
	AfterCycle func(ctx context.Context, result *CycleResult, err error)

	// Logger for structured logging.
	Logger *slog.Logger
}

// Scheduler drives an orchestrator from a ticker and a trigger channel.
type Scheduler struct {
	cycler  Cycler
	config  SchedulerConfig
	trigger chan []string

	mu      sync.Mutex
	running bool
	next    time.Time
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cycler Cycler, config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Scheduler{
		cycler:  cycler,
		config:  config,
		trigger: make(chan []string, 1),
	}
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.schedule()
	s.wg.Add(1)
	go s.loop(ctx)

	s.config.Logger.Info("update scheduler started",
		slog.Duration("interval", s.config.Interval),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()

	s.config.Logger.Info("update scheduler stopped")
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextScheduled returns when the next interval cycle is due.
func (s *Scheduler) NextScheduled() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Trigger queues a cycle over the named databases, or all when none are
// given. Returns false if a triggered cycle is already pending.
func (s *Scheduler) Trigger(only ...string) bool {
	select {
	case s.trigger <- only:
		return true
	default:
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if s.config.RunInitialUpdate {
		s.execute(ctx, nil)
	}

	for {
		select {
		case <-ctx.Done():
			s.config.Logger.Debug("scheduler loop stopped")
			return

		case <-ticker.C:
			s.execute(ctx, nil)
			s.schedule()

		case only := <-s.trigger:
			s.config.Logger.Info("manual update triggered", slog.Any("databases", only))
			s.execute(ctx, only)
		}
	}
}

func (s *Scheduler) schedule() {
	s.mu.Lock()
	s.next = time.Now().Add(s.config.Interval)
	s.mu.Unlock()
}

// execute runs a cycle, retrying with backoff when it could not run.
func (s *Scheduler) execute(ctx context.Context, only []string) {
	backoff := resilience.NewBackoff(s.config.RetryConfig)

	for {
		result, err := s.cycler.Run(ctx, only...)
		if s.config.AfterCycle != nil {
			s.config.AfterCycle(ctx, result, err)
		}

		if err == nil {
			return
		}
		if errors.Is(err, ErrUnknownDatabase) || ctx.Err() != nil {
			s.config.Logger.Warn("update cycle not run", slog.String("error", err.Error()))
			return
		}

		s.config.Logger.Warn("update cycle failed",
			slog.String("error", err.Error()),
			slog.Int("attempt", backoff.Attempts()+1),
		)

		if err := backoff.Wait(ctx); err != nil {
			s.config.Logger.Error("update cycle failed after max retries",
				slog.Int("attempts", backoff.Attempts()+1),
			)
			return
		}
	}
}
