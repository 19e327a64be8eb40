// ABOUTME: Database registration and local file reconciliation
// ABOUTME: Add, remove, index, and clean operations that keep metadata and disk aligned

package dbupdater

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/observability"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/state"
	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// knownExtensions are the file types clamd loads from a database directory.
var knownExtensions = map[string]bool{
	"cvd": true, "cld": true, "cud": true, "cfg": true, "cat": true, "crb": true,
	"ftm": true, "ndb": true, "ndu": true, "ldb": true, "ldu": true, "idb": true,
	"ydb": true, "yar": true, "yara": true, "cdb": true, "cbc": true, "pdb": true,
	"gdb": true, "wdb": true, "hdb": true, "hsb": true, "hdu": true, "hsu": true,
	"mdb": true, "msb": true, "mdu": true, "msu": true, "ign": true, "ign2": true,
	"info": true,
}

// KnownExtension reports whether name has an extension clamd understands.
func KnownExtension(name string) bool {
	return knownExtensions[strings.TrimPrefix(filepath.Ext(name), ".")]
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Audit  *observability.AuditLogger
	Logger *slog.Logger
}

// Registry manages the tracked database list and the files behind it.
type Registry struct {
	store  state.Store
	audit  *observability.AuditLogger
	logger *slog.Logger
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store state.Store, cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registry{
		store:  store,
		audit:  cfg.Audit,
		logger: cfg.Logger.With(slog.String("component", "registry")),
	}
}

// Add starts tracking name, downloaded from rawURL on the next cycle.
// Unknown extensions are accepted with a warning.
func (r *Registry) Add(ctx context.Context, name, rawURL string) (rec *types.DatabaseRecord, err error) {
	defer func() { r.audit.LogDatabaseAdded(ctx, name, rawURL, err) }()

	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid database name %q", name)
	}
	if !strings.HasPrefix(rawURL, "http") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if !KnownExtension(name) {
		r.logger.Warn("database has an extension clamd may not load",
			slog.String("database", name),
		)
	}

	m, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	rec = types.NewDatabaseRecord(name, rawURL)
	if !m.Add(rec) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTracked, name)
	}
	if err := r.store.Save(ctx, m); err != nil {
		return nil, err
	}

	r.logger.Info("database added",
		slog.String("database", name),
		slog.String("url", observability.RedactURL(rawURL)),
	)
	return rec, nil
}

// Remove stops tracking name and deletes its file and retained patches.
// Returns the files that were deleted.
func (r *Registry) Remove(ctx context.Context, name string) (removed []string, err error) {
	defer func() { r.audit.LogDatabaseRemoved(ctx, name, len(removed), err) }()

	m, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	rec := m.Remove(name)
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDatabase, name)
	}

	dir := m.Settings.DatabaseDir
	for _, file := range append([]string{rec.Name}, rec.Patches...) {
		path := filepath.Join(dir, file)
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger.Error("failed to delete database file",
					slog.String("path", path),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		removed = append(removed, file)
	}

	// Saved even when some files could not be deleted.
	if err := r.store.Save(ctx, m); err != nil {
		return removed, err
	}

	r.logger.Info("database removed",
		slog.String("database", name),
		slog.Int("files_removed", len(removed)),
	)
	return removed, nil
}

// Index loads metadata, reconciles it with the database directory, and
// returns the tracked records followed by untracked files found on disk.
// Metadata is saved when reconciliation adopted a version.
func (r *Registry) Index(ctx context.Context) (*types.Metadata, []*types.DatabaseRecord, error) {
	m, err := r.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}

	untracked, changed := Reconcile(m, r.logger)
	if changed {
		if err := r.store.Save(ctx, m); err != nil {
			return nil, nil, err
		}
	}

	view := make([]*types.DatabaseRecord, 0, len(m.Databases)+len(untracked))
	view = append(view, m.Databases...)
	view = append(view, untracked...)
	return m, view, nil
}

// CleanDatabases deletes every file in the database directory.
func (r *Registry) CleanDatabases(ctx context.Context) (n int, err error) {
	defer func() { r.audit.LogClean(ctx, "dbs", n, err) }()

	m, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return removeAll(m.Settings.DatabaseDir, r.logger)
}

// CleanLogs deletes every file in the log directory.
func (r *Registry) CleanLogs(ctx context.Context) (n int, err error) {
	defer func() { r.audit.LogClean(ctx, "logs", n, err) }()

	m, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return removeAll(m.Settings.LogDir, r.logger)
}

// CleanAll deletes databases, logs, and the stored metadata.
func (r *Registry) CleanAll(ctx context.Context) (int, error) {
	dbs, err := r.CleanDatabases(ctx)
	if err != nil {
		return dbs, err
	}
	logs, err := r.CleanLogs(ctx)
	if err != nil {
		return dbs + logs, err
	}

	err = r.store.Purge(ctx)
	r.audit.LogClean(ctx, "metadata", 0, err)
	return dbs + logs, err
}

// Reconcile aligns metadata with the database directory. Tracked CVDs with
// no recorded version adopt the version from their header. Untracked files
// are returned as records with URL "n/a" but are not added to m. Patch files
// are ignored. Returns whether m changed.
func Reconcile(m *types.Metadata, logger *slog.Logger) (untracked []*types.DatabaseRecord, changed bool) {
	dir := m.Settings.DatabaseDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("cannot read database directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
		}
		return nil, false
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasSuffix(name, types.PatchExt) || name == types.DNSSnapshotFile {
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}

		if rec := m.Lookup(name); rec != nil {
			if adoptLocalVersion(dir, rec, logger) {
				changed = true
			}
			continue
		}

		rec := types.NewDatabaseRecord(name, types.URLNotAvailable)
		if info, err := entry.Info(); err == nil {
			rec.LastModified = info.ModTime().UTC().Truncate(time.Second)
		}
		if rec.Versioned() {
			logger.Warn("found an untracked cvd in the database directory",
				slog.String("database", name),
			)
			path := filepath.Join(dir, name)
			v, ok := readVersion(path, logger)
			if !ok {
				if _, err := os.Stat(path); err != nil {
					continue
				}
			}
			rec.LocalVersion = v
		}
		untracked = append(untracked, rec)
	}

	return untracked, changed
}

// adoptLocalVersion sets the version of a tracked CVD that exists on disk
// but was never recorded. Returns true if rec changed.
func adoptLocalVersion(dir string, rec *types.DatabaseRecord, logger *slog.Logger) bool {
	if !rec.Versioned() || rec.LocalVersion != 0 {
		return false
	}
	path := filepath.Join(dir, rec.Name)
	if _, err := os.Stat(path); err != nil {
		return false
	}

	v, ok := readVersion(path, logger)
	if !ok {
		return false
	}
	logger.Info("adopted version of existing database file",
		slog.String("database", rec.Name),
		slog.Int("version", v),
	)
	return rec.RaiseLocalVersion(v)
}

// readVersion reads a CVD header. A file too short to hold a header is
// deleted so it cannot poison later cycles.
func readVersion(path string, logger *slog.Logger) (int, bool) {
	v, err := types.ReadFileVersion(path)
	if err == nil {
		return v, true
	}

	if errors.Is(err, types.ErrShortHeader) {
		logger.Warn("deleting database with truncated header",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if rmErr := os.Remove(path); rmErr != nil {
			logger.Error("failed to delete corrupt database",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}
		return 0, false
	}

	logger.Error("failed to read database version",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
	return 0, false
}

func removeAll(dir string, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", dir, err)
	}

	n := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			return n, fmt.Errorf("deleting %s: %w", path, err)
		}
		logger.Info("deleted", slog.String("path", path))
		n++
	}
	return n, nil
}
