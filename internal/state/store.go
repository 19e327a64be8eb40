// ABOUTME: Metadata store interface and backend factory
// ABOUTME: Selects the YAML file store or the BadgerDB store from configuration

package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// ErrConfigIO is returned when metadata cannot be read or written.
// Callers treat it as fatal for the current command.
var ErrConfigIO = errors.New("metadata i/o failure")

// Store persists mirror metadata between runs.
type Store interface {
	// Load returns the stored metadata. A missing store yields defaults,
	// which are written back before returning.
	Load(ctx context.Context) (*types.Metadata, error)

	// Save persists the metadata.
	Save(ctx context.Context, m *types.Metadata) error

	// Purge deletes all stored metadata. The next Load recreates defaults.
	Purge(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config selects and locates the metadata backend.
type Config struct {
	// Backend is "file" (default) or "badger".
	Backend string `yaml:"backend"`

	// Path is the YAML file for the file backend, or the directory for badger.
	Path string `yaml:"path"`

	// BaseDir roots default database and log directories for new metadata.
	BaseDir string `yaml:"base_dir"`

	// SyncWrites enables synchronous badger writes.
	SyncWrites bool `yaml:"sync_writes"`
}

// Open creates the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendFile:
		return NewFileStore(cfg.Path, cfg.BaseDir), nil
	case BackendBadger:
		return NewBadgerStore(BadgerConfig{
			Path:       cfg.Path,
			BaseDir:    cfg.BaseDir,
			SyncWrites: cfg.SyncWrites,
		})
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}
