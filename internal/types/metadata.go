// ABOUTME: Metadata and Settings types persisted by the state store
// ABOUTME: Default database set, schema versioning, and forward migration

package types

import (
	"path/filepath"

	"github.com/google/uuid"
)

// CurrentSchemaVersion is the metadata layout written by this build.
const CurrentSchemaVersion = 1

// Default settings values.
const (
	DefaultMaxRetry      = 3
	DefaultLogsToKeep    = 30
	DefaultPatchesToKeep = 30
)

// DefaultMirror is the upstream distribution service.
const DefaultMirror = "https://database.clamav.net"

// Settings are process-wide values shared by every database.
type Settings struct {
	// UUID identifies this installation in the User-Agent.
	UUID string `yaml:"uuid" json:"uuid"`

	// MaxRetry bounds attempts on truncated downloads.
	MaxRetry int `yaml:"max_retry" json:"max_retry"`

	// DatabaseDir holds databases, patches, and dns.txt.
	DatabaseDir string `yaml:"database_dir" json:"database_dir"`

	// LogDir holds dated log files.
	LogDir string `yaml:"log_dir" json:"log_dir"`

	RotateLogs bool `yaml:"rotate_logs" json:"rotate_logs"`
	LogsToKeep int  `yaml:"logs_to_keep" json:"logs_to_keep"`

	RotatePatches bool `yaml:"rotate_patches" json:"rotate_patches"`
	PatchesToKeep int  `yaml:"patches_to_keep" json:"patches_to_keep"`

	// Nameserver overrides the system resolver for DNS TXT probes.
	Nameserver string `yaml:"nameserver" json:"nameserver"`
}

// PatchRetention returns the retention limit, or -1 when rotation is disabled.
func (s Settings) PatchRetention() int {
	if !s.RotatePatches {
		return -1
	}
	return s.PatchesToKeep
}

// Metadata is everything the mirror persists between runs.
type Metadata struct {
	SchemaVersion int               `yaml:"schema_version" json:"schema_version"`
	Settings      Settings          `yaml:"settings" json:"settings"`
	Databases     []*DatabaseRecord `yaml:"databases" json:"databases"`
}

// DefaultSettings returns settings rooted under baseDir.
func DefaultSettings(baseDir string) Settings {
	return Settings{
		UUID:          uuid.New().String(),
		MaxRetry:      DefaultMaxRetry,
		DatabaseDir:   filepath.Join(baseDir, "database"),
		LogDir:        filepath.Join(baseDir, "logs"),
		RotateLogs:    true,
		LogsToKeep:    DefaultLogsToKeep,
		RotatePatches: true,
		PatchesToKeep: DefaultPatchesToKeep,
	}
}

// DefaultDatabases returns the official database set with their DNS fields.
func DefaultDatabases() []*DatabaseRecord {
	main := NewDatabaseRecord("main.cvd", DefaultMirror+"/main.cvd")
	main.DNSField = 1
	daily := NewDatabaseRecord("daily.cvd", DefaultMirror+"/daily.cvd")
	daily.DNSField = 2
	bytecode := NewDatabaseRecord("bytecode.cvd", DefaultMirror+"/bytecode.cvd")
	bytecode.DNSField = 7
	return []*DatabaseRecord{main, daily, bytecode}
}

// NewMetadata returns a fresh metadata document for baseDir.
func NewMetadata(baseDir string) *Metadata {
	return &Metadata{
		SchemaVersion: CurrentSchemaVersion,
		Settings:      DefaultSettings(baseDir),
		Databases:     DefaultDatabases(),
	}
}

// Lookup returns the record with the given name, or nil.
func (m *Metadata) Lookup(name string) *DatabaseRecord {
	for _, rec := range m.Databases {
		if rec.Name == name {
			return rec
		}
	}
	return nil
}

// Add appends a record. Returns false if the name is already tracked.
func (m *Metadata) Add(rec *DatabaseRecord) bool {
	if m.Lookup(rec.Name) != nil {
		return false
	}
	m.Databases = append(m.Databases, rec)
	return true
}

// Remove drops the record with the given name and returns it, or nil.
func (m *Metadata) Remove(name string) *DatabaseRecord {
	for i, rec := range m.Databases {
		if rec.Name == name {
			m.Databases = append(m.Databases[:i], m.Databases[i+1:]...)
			return rec
		}
	}
	return nil
}

// Migrate upgrades a loaded document to CurrentSchemaVersion, filling
// defaults for fields that older layouts did not carry.
// Returns true if anything changed and the document should be saved.
func (m *Metadata) Migrate(baseDir string) bool {
	changed := false
	defaults := DefaultSettings(baseDir)

	if m.SchemaVersion < 1 {
		// Version 0 documents predate retry and rotation settings.
		if m.Settings.MaxRetry == 0 {
			m.Settings.MaxRetry = defaults.MaxRetry
		}
		if m.Settings.LogsToKeep == 0 {
			m.Settings.RotateLogs = defaults.RotateLogs
			m.Settings.LogsToKeep = defaults.LogsToKeep
		}
		if m.Settings.PatchesToKeep == 0 {
			m.Settings.RotatePatches = defaults.RotatePatches
			m.Settings.PatchesToKeep = defaults.PatchesToKeep
		}
		m.SchemaVersion = 1
		changed = true
	}

	if m.Settings.UUID == "" {
		m.Settings.UUID = defaults.UUID
		changed = true
	}
	if m.Settings.DatabaseDir == "" {
		m.Settings.DatabaseDir = defaults.DatabaseDir
		changed = true
	}
	if m.Settings.LogDir == "" {
		m.Settings.LogDir = defaults.LogDir
		changed = true
	}

	for _, rec := range m.Databases {
		if rec.Patches == nil {
			rec.Patches = []string{}
		}
	}

	return changed
}
