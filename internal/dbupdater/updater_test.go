// ABOUTME: Tests for cycle result tallying and formatting
// ABOUTME: Validates counts per status and the summary string

package dbupdater

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/types"
)

func TestCycleResult_Add(t *testing.T) {
	t.Parallel()

	r := &CycleResult{}
	r.add(DatabaseResult{Name: "main.cvd", Status: types.StatusNoUpdate})
	r.add(DatabaseResult{Name: "daily.cvd", Status: types.StatusUpdated})
	r.add(DatabaseResult{Name: "bytecode.cvd", Status: types.StatusError, Err: errors.New("boom")})

	if r.Updated != 1 || r.NoUpdate != 1 || r.Errors != 1 {
		t.Errorf("counts = updated %d, no_update %d, errors %d", r.Updated, r.NoUpdate, r.Errors)
	}
	if !r.HasErrors() {
		t.Error("HasErrors() = false")
	}
	if got := r.Databases[2].Error; got != "boom" {
		t.Errorf("Error = %q, want boom", got)
	}
}

func TestCycleResult_String(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		result   CycleResult
		contains []string
		excludes []string
	}{
		{
			name:     "clean",
			result:   CycleResult{Updated: 2, NoUpdate: 1, Started: start, Finished: start.Add(1500 * time.Millisecond)},
			contains: []string{"updated=2", "no_update=1", "duration=1.5s"},
			excludes: []string{"errors="},
		},
		{
			name:     "with errors",
			result:   CycleResult{Errors: 3, Started: start, Finished: start},
			contains: []string{"errors=3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := tt.result.String()
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("String() = %q, missing %q", got, s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("String() = %q, unexpected %q", got, s)
				}
			}
		})
	}
}
