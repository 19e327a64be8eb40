// ABOUTME: Fetches the chain of incremental patches between local and target versions
// ABOUTME: Best effort: gaps end the chain quietly, rate limits abort it with a cooldown

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// FetcherConfig is shared by the patch and snapshot fetchers.
type FetcherConfig struct {
	// DatabaseDir receives databases and patches.
	DatabaseDir string

	// Retention is the patch retention limit; negative disables pruning.
	Retention int

	Cooldown *CooldownGate
	Metrics  *observability.UpdateMetrics
	Now      Clock
	Logger   *slog.Logger
}

func (c *FetcherConfig) setDefaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Cooldown == nil {
		c.Cooldown = NewCooldownGate(0, c.Logger)
	}
}

// PatchChainFetcher downloads CDIFF patches for versioned databases.
type PatchChainFetcher struct {
	http   Getter
	config FetcherConfig
	logger *slog.Logger
}

// NewPatchChainFetcher creates a fetcher writing into cfg.DatabaseDir.
func NewPatchChainFetcher(httpc Getter, cfg FetcherConfig) *PatchChainFetcher {
	cfg.setDefaults()
	return &PatchChainFetcher{
		http:   httpc,
		config: cfg,
		logger: cfg.Logger.With(slog.String("component", "patches")),
	}
}

// errGap marks a single missing patch.
var errGap = errors.New("patch gap")

// FetchChain retrieves patches for versions after rec.LocalVersion up to
// target. It returns the number of patches written. rec.LocalVersion is not
// changed. The only error returned is ErrRateLimited (or a context error);
// gaps end the chain without error.
func (f *PatchChainFetcher) FetchChain(ctx context.Context, rec *types.DatabaseRecord, target int) (int, error) {
	start := rec.LocalVersion + 1
	if rec.LocalVersion == 0 {
		start = target
	}

	applied := 0
	for v := start; v <= target; v++ {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		wrote, err := f.fetchOne(ctx, rec, v)
		if wrote {
			applied++
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, errGap) {
			return applied, err
		}

		f.logger.Info("patch chain has a gap",
			slog.String("database", rec.Name),
			slog.Int("version", v),
			slog.Int("target", target),
			slog.Any("error", classify(fmt.Errorf("%w: %w", ErrPatchUnavailable, err), "patch", rec.Name)),
		)

		// One best-effort jump, then the chain is over.
		if skip := target - 1; v < target && skip > v {
			wrote, err := f.fetchOne(ctx, rec, skip)
			if wrote {
				applied++
			}
			if err != nil && !errors.Is(err, errGap) {
				return applied, err
			}
		}
		break
	}

	return applied, nil
}

// fetchOne fetches a single patch. An existing file is tracked without a
// network call.
func (f *PatchChainFetcher) fetchOne(ctx context.Context, rec *types.DatabaseRecord, v int) (bool, error) {
	name := rec.PatchFilename(v)
	path := filepath.Join(f.config.DatabaseDir, name)

	if _, err := os.Stat(path); err == nil {
		f.logger.Debug("patch already present",
			slog.String("database", rec.Name),
			slog.String("patch", name),
		)
		f.track(rec, name)
		return false, nil
	}

	url, err := rec.PatchURL(v)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	resp, err := f.http.Get(ctx, transport.Request{URL: url})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %w", errGap, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		f.config.Cooldown.recordResponse(rec, resp, f.config.Now())
		return false, ErrRateLimited

	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: %s returned status %d", errGap, name, resp.StatusCode)

	case resp.Truncated():
		return false, fmt.Errorf("%w: %s: %w", errGap, name, ErrTruncatedDownload)
	}

	if err := state.WriteFileAtomic(path, resp.Body, 0o644); err != nil {
		return false, fmt.Errorf("%w: writing %s: %w", errGap, name, err)
	}

	f.logger.Info("patch downloaded",
		slog.String("database", rec.Name),
		slog.String("patch", name),
		slog.Int("bytes", len(resp.Body)),
	)
	f.config.Metrics.ObservePatch(rec.Name, len(resp.Body))
	f.track(rec, name)
	return true, nil
}

// track records a patch and enforces retention, deleting evicted files.
func (f *PatchChainFetcher) track(rec *types.DatabaseRecord, name string) {
	rec.AddPatch(name)

	for _, old := range rec.PrunePatches(f.config.Retention) {
		err := os.Remove(filepath.Join(f.config.DatabaseDir, old))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("failed to remove evicted patch",
				slog.String("database", rec.Name),
				slog.String("patch", old),
				slog.String("error", err.Error()),
			)
			continue
		}
		f.logger.Debug("evicted patch",
			slog.String("database", rec.Name),
			slog.String("patch", old),
		)
	}
}
