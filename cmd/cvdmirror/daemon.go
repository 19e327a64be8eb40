// ABOUTME: Daemon command running scheduled update cycles with an HTTP API
// ABOUTME: Optionally coordinates through Redis and announces updates over NATS and GCS

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/api"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/events"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/gcs"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	internalredis "github.com/hikmaai-io/hikmaai-cvdmirror/internal/redis"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
)

func newDaemonCmd(opts *globalOptions) *cobra.Command {
	var (
		interval  time.Duration
		httpAddr  string
		noInitial bool
		noDNS     bool
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run update cycles on a schedule",
		Long: `Start the mirror daemon. It runs an update cycle every --interval and
serves health, status, manual triggers, and Prometheus metrics over HTTP.

When configured, cycles take a Redis lock so several hosts can share one
mirror directory, updated databases are announced over NATS, and new
files are copied to a GCS bucket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			flags := cmd.Flags()
			if flags.Changed("interval") {
				rt.cfg.Daemon.Interval = interval
			}
			if flags.Changed("http-addr") {
				rt.cfg.Daemon.Addr = httpAddr
			}
			if noInitial {
				rt.cfg.Daemon.RunInitialUpdate = false
			}
			return runDaemon(cmd.Context(), rt, noDNS)
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", dbupdater.DefaultInterval, "time between update cycles")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP address for status, trigger, and metrics (empty disables)")
	cmd.Flags().BoolVar(&noInitial, "no-initial-update", false, "wait one interval before the first cycle")
	cmd.Flags().BoolVar(&noDNS, "no-dns", false, "resolve versions over HTTP only")

	return cmd
}

func runDaemon(ctx context.Context, rt *runtime, noDNS bool) error {
	cfg := rt.cfg
	logger := rt.logger
	slog.SetDefault(logger)

	logger.Info("starting cvdmirror daemon",
		slog.String("version", version),
		slog.String("database_dir", rt.meta.Settings.DatabaseDir),
		slog.Duration("interval", cfg.Daemon.Interval),
		slog.String("http_addr", cfg.Daemon.Addr),
	)

	tracingCfg := cfg.Tracing
	tracingCfg.ServiceName = serviceName
	tracingCfg.Version = version
	tp, err := observability.NewTracerProvider(ctx, tracingCfg)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()
	if tp.IsEnabled() {
		logger.Info("tracing enabled", slog.String("endpoint", tracingCfg.Endpoint))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewUpdateMetrics(reg)
	status := dbupdater.NewStatusTracker()
	status.Sync(rt.meta.Databases)

	deps := orchestratorDeps{
		noDNS:   noDNS,
		metrics: metrics,
		status:  status,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "dns",
			MaxFailures:  cfg.DNS.BreakerFailures,
			ResetTimeout: cfg.DNS.BreakerTimeout,
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}

	var statusPub *internalredis.StatusPublisher
	if cfg.Redis.Enabled() {
		client, err := internalredis.NewClient(ctx, internalredis.Config{
			URL:      cfg.Redis.URL,
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		lock := internalredis.NewLock(client, cfg.Redis.LockTTL)
		deps.distLock = lock
		statusPub = internalredis.NewStatusPublisher(client, internalredis.StatusPublisherConfig{TTL: cfg.Redis.StatusTTL})
		logger.Info("redis coordination enabled",
			slog.String("url", observability.RedactURL(cfg.Redis.URL)),
			slog.String("lock_key", lock.Key()),
		)
	}

	var natsClient *events.Client
	if cfg.NATS.URL != "" {
		natsCfg := events.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.UpdatedSubject = cfg.NATS.UpdatedSubject
		natsCfg.RequestSubject = cfg.NATS.RequestSubject
		natsCfg.QueueGroup = cfg.NATS.Queue

		natsClient = events.NewClient(natsCfg, logger)
		if err := natsClient.Connect(ctx); err != nil {
			return err
		}
		defer natsClient.Close()
		deps.events = natsClient.Publisher()
		logger.Info("nats events enabled",
			slog.String("url", observability.RedactURL(cfg.NATS.URL)),
			slog.String("subject", natsCfg.UpdatedSubject),
		)
	}

	if cfg.GCS.Destination != "" {
		gcsCfg, err := gcs.ConfigFromURI(cfg.GCS.Destination)
		if err != nil {
			return fmt.Errorf("gcs destination: %w", err)
		}
		gcsCfg.CredentialsFile = cfg.GCS.CredentialsFile
		gcsCfg.Endpoint = cfg.GCS.Endpoint
		gcsCfg.EmulatorHost = cfg.GCS.EmulatorHost

		pub, err := gcs.NewPublisher(ctx, gcsCfg, logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		deps.artifacts = pub
		logger.Info("gcs publishing enabled",
			slog.String("destination", cfg.GCS.Destination),
			slog.Bool("emulator", pub.IsEmulatorMode()),
		)
	}

	orch := newOrchestrator(rt, deps)

	sched := dbupdater.NewScheduler(orch, dbupdater.SchedulerConfig{
		Interval:         cfg.Daemon.Interval,
		RunInitialUpdate: cfg.Daemon.RunInitialUpdate,
		RetryConfig:      cfg.Daemon.GetRetry().Backoff(),
		Logger:           logger,
		AfterCycle: func(ctx context.Context, result *dbupdater.CycleResult, err error) {
			if statusPub != nil && result != nil {
				if err := statusPub.PublishCycle(ctx, result); err != nil {
					logger.Warn("failed to publish cycle status", slog.String("error", err.Error()))
				}
			}
			rt.pruneLogs()
		},
	})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if natsClient != nil {
		if err := natsClient.Subscribe(ctx, events.NewHandler(sched, logger)); err != nil {
			return err
		}
	}

	var httpServer *http.Server
	if cfg.Daemon.Addr != "" {
		handler := api.NewHandler(api.HandlerConfig{
			Status:    status,
			Catalog:   rt.store,
			Scheduler: sched,
			Lock:      orch.Lock(),
			Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			Audit:     rt.audit,
			Logger:    logger,
		})
		httpServer = api.NewServer(cfg.Daemon.Addr, handler, logger)

		go func() {
			logger.Info("starting HTTP server", slog.String("addr", cfg.Daemon.Addr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("daemon ready")
	<-ctx.Done()
	logger.Info("shutting down daemon")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
		}
	}

	logger.Info("daemon stopped")
	return nil
}
