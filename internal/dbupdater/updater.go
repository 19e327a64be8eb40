// ABOUTME: Result types for update cycles
// ABOUTME: Per-database outcomes and the batch tally whose error count is the exit status

package dbupdater

import (
	"fmt"
	"strings"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

// DatabaseResult is the outcome of updating one database.
type DatabaseResult struct {
	// Name is the database identifier.
	Name string `json:"name"`

	// Status is the final state machine outcome.
	Status types.UpdateStatus `json:"status"`

	// Method is how the remote version was resolved. Empty if it was not.
	Method Method `json:"method,omitempty"`

	// LocalVersion is the version after the update.
	LocalVersion int `json:"local_version"`

	// RemoteVersion is the advertised version.
	RemoteVersion int `json:"remote_version,omitempty"`

	// PatchesWritten counts new patch files.
	PatchesWritten int `json:"patches_written,omitempty"`

	// Err is the failure, if any.
	Err error `json:"-"`

	// Error mirrors Err for serialization.
	Error string `json:"error,omitempty"`
}

// CycleResult contains the outcome of a whole update cycle.
type CycleResult struct {
	// ID correlates the cycle across logs, spans, and events.
	ID string `json:"id"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Updated is the number of databases that received new content.
	Updated int `json:"updated"`

	// Errors is the number of databases that ended in error.
	Errors int `json:"errors"`

	// NoUpdate is the number of databases already current.
	NoUpdate int `json:"no_update"`

	// Databases holds per-database results in processing order.
	Databases []DatabaseResult `json:"databases"`

	// Removed lists databases that stopped being tracked since the
	// previous cycle.
	Removed []string `json:"removed,omitempty"`
}

// add tallies one database result.
func (r *CycleResult) add(res DatabaseResult) {
	if res.Err != nil {
		res.Error = res.Err.Error()
	}
	switch res.Status {
	case types.StatusUpdated:
		r.Updated++
	case types.StatusError:
		r.Errors++
	default:
		r.NoUpdate++
	}
	r.Databases = append(r.Databases, res)
}

// HasErrors returns true if any database failed.
func (r *CycleResult) HasErrors() bool {
	return r.Errors > 0
}

// Duration returns how long the cycle took.
func (r *CycleResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// String returns a human-readable summary of the cycle.
func (r *CycleResult) String() string {
	parts := []string{
		fmt.Sprintf("updated=%d", r.Updated),
		fmt.Sprintf("no_update=%d", r.NoUpdate),
	}
	if r.Errors > 0 {
		parts = append(parts, fmt.Sprintf("errors=%d", r.Errors))
	}
	parts = append(parts, fmt.Sprintf("duration=%v", r.Duration().Round(time.Millisecond)))
	return strings.Join(parts, " ")
}
