// ABOUTME: Fetches full database files, pinned to the advertised version
// ABOUTME: Conditional GET, atomic overwrite, and version tracking from the written header

package dbupdater

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// SnapshotFetcher downloads whole database files.
type SnapshotFetcher struct {
	http   Getter
	config FetcherConfig
	logger *slog.Logger
}

// NewSnapshotFetcher creates a fetcher writing into cfg.DatabaseDir.
func NewSnapshotFetcher(httpc Getter, cfg FetcherConfig) *SnapshotFetcher {
	cfg.setDefaults()
	return &SnapshotFetcher{
		http:   httpc,
		config: cfg,
		logger: cfg.Logger.With(slog.String("component", "snapshot")),
	}
}

// FetchSnapshot downloads rec at target. For non-versioned records target is
// ignored and the plain URL is fetched.
//
// A header that cannot be parsed after a successful write yields
// StatusError with ErrCorruptHeader; the written file is kept.
func (f *SnapshotFetcher) FetchSnapshot(ctx context.Context, rec *types.DatabaseRecord, target int) (types.UpdateStatus, error) {
	pin := 0
	if rec.Versioned() {
		pin = target
	}
	url, err := rec.SnapshotURL(pin)
	if err != nil {
		return types.StatusError, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	resp, err := f.http.Get(ctx, transport.Request{
		URL:             url,
		IfModifiedSince: rec.LastModified,
	})
	if err != nil {
		return types.StatusError, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if resp.Truncated() {
			return types.StatusError, fmt.Errorf("%s: %w after %d attempts", rec.Name, ErrTruncatedDownload, resp.Attempts)
		}

	case http.StatusNotModified:
		f.logger.Debug("database not modified", slog.String("database", rec.Name))
		return types.StatusNoUpdate, nil

	case http.StatusTooManyRequests:
		f.config.Cooldown.recordResponse(rec, resp, f.config.Now())
		return types.StatusError, ErrRateLimited

	default:
		return types.StatusError, fmt.Errorf("%w: %s returned status %d", ErrDownloadFailed, rec.Name, resp.StatusCode)
	}

	path := filepath.Join(f.config.DatabaseDir, rec.Name)
	if err := state.WriteFileAtomic(path, resp.Body, 0o644); err != nil {
		return types.StatusError, fmt.Errorf("%w: writing %s: %w", ErrDownloadFailed, rec.Name, err)
	}
	rec.LastModified = f.config.Now()
	f.config.Metrics.ObserveSnapshot(len(resp.Body))

	f.logger.Info("database downloaded",
		slog.String("database", rec.Name),
		slog.Int("bytes", len(resp.Body)),
	)

	if !rec.Versioned() {
		return types.StatusUpdated, nil
	}

	v, err := types.ParseVersionHeader(resp.Body)
	if err != nil {
		return types.StatusError, fmt.Errorf("%w: %s: %w", ErrCorruptHeader, rec.Name, err)
	}
	if v < target {
		return types.StatusError, fmt.Errorf("%w: %s has version %d, expected %d", ErrCorruptHeader, rec.Name, v, target)
	}
	if !rec.RaiseLocalVersion(v) {
		return types.StatusError, fmt.Errorf("%w: %s version %d is older than local %d", ErrCorruptHeader, rec.Name, v, rec.LocalVersion)
	}

	return types.StatusUpdated, nil
}
