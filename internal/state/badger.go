// ABOUTME: BadgerDB metadata store for mirrors that prefer an embedded KV database
// ABOUTME: Settings and each database record live under their own keys

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

const (
	keySchema   = "schema"
	keySettings = "settings"
	keyOrder    = "order"
	prefixDB    = "db:"
)

// BadgerConfig holds configuration for the BadgerDB store.
type BadgerConfig struct {
	// Path to the database directory. Required unless InMemory is true.
	Path string

	// BaseDir roots default directories for new metadata.
	BaseDir string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites enables synchronous writes (slower but safer).
	SyncWrites bool

	// Logger for BadgerDB operations.
	Logger badger.Logger
}

// BadgerStore persists metadata in BadgerDB.
type BadgerStore struct {
	db      *badger.DB
	baseDir string
}

// NewBadgerStore opens a BadgerDB store with the given configuration.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	if cfg.SyncWrites {
		opts = opts.WithSyncWrites(true)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(cfg.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening badger db: %v", ErrConfigIO, err)
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = cfg.Path
	}

	return &BadgerStore{db: db, baseDir: baseDir}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Purge drops every key.
func (s *BadgerStore) Purge(ctx context.Context) error {
	if err := s.db.DropAll(); err != nil {
		return fmt.Errorf("%w: dropping badger keys: %v", ErrConfigIO, err)
	}
	return nil
}

// Load reads settings and records. An empty database yields defaults.
func (s *BadgerStore) Load(ctx context.Context) (*types.Metadata, error) {
	m := &types.Metadata{}
	found := false
	var order []string
	records := make(map[string]*types.DatabaseRecord)

	err := s.db.View(func(txn *badger.Txn) error {
		if err := getJSON(txn, keySchema, &m.SchemaVersion, &found); err != nil {
			return err
		}
		if err := getJSON(txn, keySettings, &m.Settings, &found); err != nil {
			return err
		}
		if err := getJSON(txn, keyOrder, &order, &found); err != nil {
			return err
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixDB)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), prefixDB)
			rec := &types.DatabaseRecord{}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, rec)
			}); err != nil {
				return fmt.Errorf("decoding record %s: %w", name, err)
			}
			records[name] = rec
			found = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigIO, err)
	}

	if !found {
		m = types.NewMetadata(s.baseDir)
		if err := s.Save(ctx, m); err != nil {
			return nil, err
		}
		return m, nil
	}

	// Records keep the order they were saved in; strays are appended.
	for _, name := range order {
		if rec, ok := records[name]; ok {
			m.Databases = append(m.Databases, rec)
			delete(records, name)
		}
	}
	for _, rec := range records {
		m.Databases = append(m.Databases, rec)
	}

	if m.Migrate(s.baseDir) {
		if err := s.Save(ctx, m); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Save replaces all stored metadata in one transaction.
func (s *BadgerStore) Save(ctx context.Context, m *types.Metadata) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		// Drop records that are no longer tracked.
		var stale [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		prefix := []byte(prefixDB)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return fmt.Errorf("deleting key %s: %w", key, err)
			}
		}

		order := make([]string, 0, len(m.Databases))
		for _, rec := range m.Databases {
			if err := setJSON(txn, prefixDB+rec.Name, rec); err != nil {
				return err
			}
			order = append(order, rec.Name)
		}

		if err := setJSON(txn, keyOrder, order); err != nil {
			return err
		}
		if err := setJSON(txn, keySettings, m.Settings); err != nil {
			return err
		}
		return setJSON(txn, keySchema, m.SchemaVersion)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigIO, err)
	}
	return nil
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("setting key %s: %w", key, err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key string, v any, found *bool) error {
	item, err := txn.Get([]byte(key))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting key %s: %w", key, err)
	}
	*found = true
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}
