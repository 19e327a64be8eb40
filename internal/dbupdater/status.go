// ABOUTME: Thread-safe per-database status tracking for the daemon
// ABOUTME: Records the latest result, versions, and errors for the status API

package dbupdater

import (
	"sort"
	"sync"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// Phase is what the engine is doing with a database right now.
type Phase string

const (
	// PhasePending indicates no cycle has touched the database yet.
	PhasePending Phase = "pending"

	// PhaseIdle indicates the last cycle finished without error.
	PhaseIdle Phase = "idle"

	// PhaseUpdating indicates a cycle is processing the database.
	PhaseUpdating Phase = "updating"

	// PhaseFailed indicates the last cycle ended in error.
	PhaseFailed Phase = "failed"

	// PhaseCoolingDown indicates the server asked us to back off.
	PhaseCoolingDown Phase = "cooling_down"
)

// DatabaseStatus is the live status of one database.
type DatabaseStatus struct {
	Name          string             `json:"name"`
	Phase         Phase              `json:"phase"`
	LastResult    types.UpdateStatus `json:"last_result"`
	LocalVersion  int                `json:"local_version"`
	RemoteVersion int                `json:"remote_version,omitempty"`
	Method        Method             `json:"method,omitempty"`
	LastUpdate    time.Time          `json:"last_update,omitzero"`
	LastChecked   time.Time          `json:"last_checked,omitzero"`
	RetryAfter    time.Time          `json:"retry_after,omitzero"`
	LastError     string             `json:"last_error,omitempty"`
	Patches       int                `json:"patches"`
}

// StatusTracker holds the status of every database seen by a cycle.
type StatusTracker struct {
	mu        sync.RWMutex
	statuses  map[string]*DatabaseStatus
	lastCycle *CycleResult
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		statuses: make(map[string]*DatabaseStatus),
	}
}

// PendingStatus is the status of a tracked database no cycle has touched,
// built from its persisted record.
func PendingStatus(rec *types.DatabaseRecord) DatabaseStatus {
	return DatabaseStatus{
		Name:         rec.Name,
		Phase:        PhasePending,
		LocalVersion: rec.LocalVersion,
		LastChecked:  rec.LastChecked,
		RetryAfter:   rec.RetryAfter,
		Patches:      len(rec.Patches),
	}
}

// Sync makes the tracked set match records: new databases start pending
// and databases no longer tracked are dropped. Returns the dropped names.
func (t *StatusTracker) Sync(records []*types.DatabaseRecord) (removed []string) {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	keep := make(map[string]bool, len(records))
	for _, rec := range records {
		keep[rec.Name] = true
		if _, ok := t.statuses[rec.Name]; ok {
			continue
		}
		s := PendingStatus(rec)
		t.statuses[rec.Name] = &s
	}
	for name := range t.statuses {
		if !keep[name] {
			delete(t.statuses, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// MarkUpdating flags a database as being processed.
func (t *StatusTracker) MarkUpdating(name string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(name)
	s.Phase = PhaseUpdating
}

// Record stores the outcome of one database update.
func (t *StatusTracker) Record(rec *types.DatabaseRecord, res DatabaseResult, now time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(rec.Name)
	s.LastResult = res.Status
	s.LocalVersion = rec.LocalVersion
	s.RemoteVersion = res.RemoteVersion
	s.Method = res.Method
	s.LastChecked = rec.LastChecked
	s.RetryAfter = rec.RetryAfter
	s.Patches = len(rec.Patches)
	s.LastError = ""

	switch {
	case res.Status == types.StatusError && rec.OnCooldown(now):
		s.Phase = PhaseCoolingDown
	case res.Status == types.StatusError:
		s.Phase = PhaseFailed
	default:
		s.Phase = PhaseIdle
	}
	if res.Err != nil {
		s.LastError = res.Err.Error()
	}
	if res.Status == types.StatusUpdated {
		s.LastUpdate = now
	}
}

// RecordCycle stores the most recent cycle result.
func (t *StatusTracker) RecordCycle(result *CycleResult) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cp := *result
	cp.Databases = append([]DatabaseResult(nil), result.Databases...)
	cp.Removed = append([]string(nil), result.Removed...)
	t.lastCycle = &cp
}

// LastCycle returns a copy of the most recent cycle result, or nil.
func (t *StatusTracker) LastCycle() *CycleResult {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.lastCycle == nil {
		return nil
	}
	cp := *t.lastCycle
	cp.Databases = append([]DatabaseResult(nil), t.lastCycle.Databases...)
	return &cp
}

// Get returns a copy of the status for name, or nil if unknown.
func (t *StatusTracker) Get(name string) *DatabaseStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s, ok := t.statuses[name]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// All returns copies of every status, sorted by name.
func (t *StatusTracker) All() []DatabaseStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]DatabaseStatus, 0, len(t.statuses))
	for _, s := range t.statuses {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// entry returns the status for name, creating it. Must be called with mu held.
func (t *StatusTracker) entry(name string) *DatabaseStatus {
	s, ok := t.statuses[name]
	if !ok {
		s = &DatabaseStatus{Name: name, Phase: PhasePending}
		t.statuses[name] = s
	}
	return s
}
