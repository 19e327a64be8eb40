// ABOUTME: Update cycle orchestrator running the per-database state machine
// ABOUTME: Cooldown, version resolution, patch chain, snapshot, then one metadata save

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/resilience"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// Options wires an Orchestrator.
type Options struct {
	// Store persists metadata. Required.
	Store state.Store

	// HTTP fetches headers, patches, and snapshots. Required.
	HTTP Getter

	// DNS resolves the version TXT record. Nil disables the DNS path.
	DNS TXTLookup

	// RecordName overrides the version TXT record.
	RecordName string

	// DNSBreaker guards the DNS query across cycles.
	DNSBreaker *resilience.CircuitBreaker

	// Lock serializes cycles in this process. Created if nil.
	Lock *CycleLock

	// DistLock serializes cycles across processes.
	DistLock Locker

	// Events receives one event per updated database.
	Events EventPublisher

	// Artifacts receives every file written by a cycle.
	Artifacts ArtifactPublisher

	// CooldownDefault applies when a 429 carries no Retry-After.
	CooldownDefault time.Duration

	Metrics *observability.UpdateMetrics
	Status  *StatusTracker
	Logger  *slog.Logger
	Now     Clock
}

// Orchestrator runs update cycles.
type Orchestrator struct {
	opts     Options
	resolver *VersionResolver
	cooldown *CooldownGate
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Lock == nil {
		opts.Lock = NewCycleLock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cooldown := NewCooldownGate(opts.CooldownDefault, opts.Logger)
	resolver := NewVersionResolver(opts.HTTP, opts.DNS, ResolverConfig{
		RecordName: opts.RecordName,
		Breaker:    opts.DNSBreaker,
		Cooldown:   cooldown,
		Now:        opts.Now,
		Logger:     opts.Logger,
	})

	return &Orchestrator{
		opts:     opts,
		resolver: resolver,
		cooldown: cooldown,
		logger:   opts.Logger,
	}
}

// Lock returns the in-process cycle lock.
func (o *Orchestrator) Lock() *CycleLock {
	return o.opts.Lock
}

// Status returns the status tracker, which may be nil.
func (o *Orchestrator) Status() *StatusTracker {
	return o.opts.Status
}

// cycle holds the per-cycle collaborators.
type cycle struct {
	dir      string
	patches  *PatchChainFetcher
	snapshot *SnapshotFetcher
	logger   *slog.Logger
}

// Run executes one update cycle over every tracked database, or only the
// named ones. Per-database failures are counted in the result and never
// abort the cycle. A returned error means the cycle could not run or its
// metadata could not be saved.
func (o *Orchestrator) Run(ctx context.Context, only ...string) (*CycleResult, error) {
	release, err := o.opts.Lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if o.opts.DistLock != nil {
		unlock, err := o.opts.DistLock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring distributed cycle lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warn("failed to release distributed cycle lock", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, cid := observability.EnsureCorrelationID(ctx)
	ctx, span := observability.StartSpan(ctx, observability.SpanCycle,
		trace.WithAttributes(attribute.String("cycle.id", cid.String())),
	)
	defer span.End()

	result := &CycleResult{ID: cid.String(), Started: o.opts.Now()}

	m, err := o.opts.Store.Load(ctx)
	if err != nil {
		observability.FailSpan(span, err, "loading metadata")
		return nil, err
	}

	logger := o.logger.With(slog.String("cycle_id", cid.String()))

	targets, err := selectTargets(m, only)
	if err != nil {
		return nil, err
	}
	result.Removed = o.opts.Status.Sync(m.Databases)
	for _, rec := range targets {
		adoptLocalVersion(m.Settings.DatabaseDir, rec, logger)
	}

	fetchCfg := FetcherConfig{
		DatabaseDir: m.Settings.DatabaseDir,
		Retention:   m.Settings.PatchRetention(),
		Cooldown:    o.cooldown,
		Metrics:     o.opts.Metrics,
		Now:         o.opts.Now,
		Logger:      logger,
	}
	c := &cycle{
		dir:      m.Settings.DatabaseDir,
		patches:  NewPatchChainFetcher(o.opts.HTTP, fetchCfg),
		snapshot: NewSnapshotFetcher(o.opts.HTTP, fetchCfg),
		logger:   logger,
	}

	o.resolver.Reset()
	logger.Info("update cycle started", slog.Int("databases", len(targets)))

	var written []writtenFiles
	for _, rec := range targets {
		before := append([]string(nil), rec.Patches...)

		res := o.updateOne(ctx, c, rec)
		result.add(res)

		o.opts.Status.Record(rec, res, o.opts.Now())
		o.opts.Metrics.ObserveResult(rec.Name, res.Status.String())
		if rec.Versioned() {
			o.opts.Metrics.SetLocalVersion(rec.Name, rec.LocalVersion)
		}

		if w := collectWritten(rec, res, before); w.any() {
			written = append(written, w)
		}
	}

	if err := o.opts.Store.Save(ctx, m); err != nil {
		observability.FailSpan(span, err, "saving metadata")
		return result, err
	}

	if result.Errors == 0 && result.Updated > 0 {
		o.writeDNSSnapshot(c.dir, logger)
	}

	o.publish(ctx, c.dir, result.ID, written, logger)

	result.Finished = o.opts.Now()
	o.opts.Metrics.ObserveCycle(result.Errors, result.Duration(), result.Finished)
	o.opts.Status.RecordCycle(result)

	span.SetAttributes(
		attribute.Int("cycle.updated", result.Updated),
		attribute.Int("cycle.errors", result.Errors),
	)
	if result.Errors > 0 {
		observability.FailSpan(span, nil, fmt.Sprintf("%d databases failed", result.Errors))
	}

	logger.Info("update cycle finished",
		slog.Int("updated", result.Updated),
		slog.Int("no_update", result.NoUpdate),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration()),
	)
	return result, nil
}

func selectTargets(m *types.Metadata, only []string) ([]*types.DatabaseRecord, error) {
	if len(only) == 0 {
		return m.Databases, nil
	}

	targets := make([]*types.DatabaseRecord, 0, len(only))
	for _, name := range only {
		rec := m.Lookup(name)
		if rec == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
		}
		targets = append(targets, rec)
	}
	return targets, nil
}

// updateOne runs the state machine for one database.
func (o *Orchestrator) updateOne(ctx context.Context, c *cycle, rec *types.DatabaseRecord) DatabaseResult {
	ctx, span := observability.StartSpan(ctx, observability.SpanDatabase,
		trace.WithAttributes(attribute.String("database", rec.Name)),
	)
	defer span.End()

	o.opts.Status.MarkUpdating(rec.Name)
	res := o.transition(ctx, c, rec)
	res.Name = rec.Name
	res.LocalVersion = rec.LocalVersion

	span.SetAttributes(
		attribute.String("update.status", res.Status.String()),
		attribute.Int("version.local", rec.LocalVersion),
	)
	if res.Err != nil {
		observability.FailSpan(span, res.Err, res.Err.Error())
		c.logger.Error("database update failed",
			slog.String("database", rec.Name),
			slog.Any("error", classify(res.Err, "update", rec.Name)),
		)
	}
	return res
}

func (o *Orchestrator) transition(ctx context.Context, c *cycle, rec *types.DatabaseRecord) DatabaseResult {
	if !rec.HasRemote() {
		return DatabaseResult{Status: types.StatusError, Err: fmt.Errorf("%w: %q", ErrInvalidURL, rec.URL)}
	}

	if !o.cooldown.Allow(rec, o.opts.Now()) {
		o.opts.Metrics.ObserveCooldownSkip(rec.Name)
		return DatabaseResult{
			Status: types.StatusError,
			Err:    fmt.Errorf("%w until %s", ErrCoolingDown, rec.RetryAfter.Format(time.RFC3339)),
		}
	}

	if !rec.Versioned() {
		status, err := c.snapshot.FetchSnapshot(ctx, rec, 0)
		if err == nil {
			rec.LastChecked = o.opts.Now()
		}
		return DatabaseResult{Status: status, Method: MethodHTTP, Err: err}
	}

	adoptLocalVersion(c.dir, rec, c.logger)

	remote, method, err := o.resolver.Resolve(ctx, rec)
	if err != nil {
		return DatabaseResult{Status: types.StatusError, Err: err}
	}
	res := DatabaseResult{Method: method, RemoteVersion: remote}

	if remote <= rec.LocalVersion {
		c.logger.Info("database is up to date",
			slog.String("database", rec.Name),
			slog.Int("version", rec.LocalVersion),
			slog.String("method", string(method)),
		)
		res.Status = types.StatusNoUpdate
		return res
	}

	c.logger.Info("database update available",
		slog.String("database", rec.Name),
		slog.Int("local", rec.LocalVersion),
		slog.Int("remote", remote),
		slog.String("method", string(method)),
	)

	applied, err := c.patches.FetchChain(ctx, rec, remote)
	res.PatchesWritten = applied
	if err != nil {
		// A rate limit anywhere puts the whole database on cooldown.
		res.Status = types.StatusError
		res.Err = err
		return res
	}

	res.Status, res.Err = c.snapshot.FetchSnapshot(ctx, rec, remote)
	if res.Status == types.StatusError && errors.Is(res.Err, ErrCorruptHeader) {
		c.logger.Warn("database written but version could not be confirmed",
			slog.String("database", rec.Name),
		)
	}
	return res
}

func (o *Orchestrator) writeDNSSnapshot(dir string, logger *slog.Logger) {
	answer := o.resolver.DNSAnswer()
	if answer == "" {
		return
	}
	path := filepath.Join(dir, types.DNSSnapshotFile)
	if err := state.WriteFileAtomic(path, []byte(answer), 0o644); err != nil {
		logger.Warn("failed to write dns snapshot",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("dns snapshot written", slog.String("path", path))
}

// writtenFiles lists what a cycle wrote for one database.
type writtenFiles struct {
	rec      *types.DatabaseRecord
	snapshot bool
	patches  []string
}

func (w writtenFiles) any() bool {
	return w.snapshot || len(w.patches) > 0
}

func collectWritten(rec *types.DatabaseRecord, res DatabaseResult, before []string) writtenFiles {
	w := writtenFiles{rec: rec}

	// A corrupt header still means the file was replaced.
	w.snapshot = res.Status == types.StatusUpdated || errors.Is(res.Err, ErrCorruptHeader)

	seen := make(map[string]bool, len(before))
	for _, p := range before {
		seen[p] = true
	}
	for _, p := range rec.Patches {
		if !seen[p] {
			w.patches = append(w.patches, p)
		}
	}
	return w
}

// publish announces written files. Failures are logged and never fail the cycle.
func (o *Orchestrator) publish(ctx context.Context, dir, cycleID string, written []writtenFiles, logger *slog.Logger) {
	for _, w := range written {
		if o.opts.Artifacts != nil {
			files := w.patches
			if w.snapshot {
				files = append(append([]string(nil), files...), w.rec.Name)
			}
			for _, name := range files {
				if err := o.opts.Artifacts.PublishFile(ctx, name, filepath.Join(dir, name)); err != nil {
					logger.Warn("failed to publish artifact",
						slog.String("file", name),
						slog.String("error", err.Error()),
					)
				}
			}
		}

		if o.opts.Events != nil && w.snapshot {
			event := DatabaseUpdatedEvent{
				CycleID:      cycleID,
				Database:     w.rec.Name,
				LocalVersion: w.rec.LocalVersion,
				Patches:      w.patches,
				UpdatedAt:    o.opts.Now().UTC(),
			}
			if err := o.opts.Events.PublishDatabaseUpdated(ctx, event); err != nil {
				logger.Warn("failed to publish update event",
					slog.String("database", w.rec.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
