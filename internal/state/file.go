// ABOUTME: YAML file metadata store
// ABOUTME: Creates defaults on first use and migrates older documents in place

package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// FileStore keeps metadata in a single YAML document.
type FileStore struct {
	path    string
	baseDir string

	mu sync.Mutex
}

// NewFileStore creates a store at path. New metadata is rooted under baseDir,
// or the directory of path when baseDir is empty.
func NewFileStore(path, baseDir string) *FileStore {
	if baseDir == "" {
		baseDir = filepath.Dir(path)
	}
	return &FileStore{path: path, baseDir: baseDir}
}

// Path returns the location of the YAML document.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the document, creating or migrating it as needed.
func (s *FileStore) Load(ctx context.Context) (*types.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		m := types.NewMetadata(s.baseDir)
		if err := s.write(m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfigIO, s.path, err)
	}

	m := &types.Metadata{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfigIO, s.path, err)
	}

	if m.Migrate(s.baseDir) {
		if err := s.write(m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Save writes the document atomically.
func (s *FileStore) Save(ctx context.Context, m *types.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.write(m)
}

// Purge removes the YAML document.
func (s *FileStore) Purge(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", ErrConfigIO, s.path, err)
	}
	return nil
}

// Close is a no-op for the file store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) write(m *types.Metadata) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", ErrConfigIO, err)
	}
	if err := WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return nil
}
