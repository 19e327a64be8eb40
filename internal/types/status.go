// ABOUTME: UpdateStatus type for the per-database outcome of an update cycle
// ABOUTME: NoUpdate, Updated, or Error with text and YAML/JSON encodings

package types

import "fmt"

// UpdateStatus is the final result of updating one database.
type UpdateStatus int

const (
	// StatusNoUpdate indicates the local copy was already current.
	StatusNoUpdate UpdateStatus = iota
	// StatusUpdated indicates new content was written.
	StatusUpdated
	// StatusError indicates the update failed or was skipped.
	StatusError
)

// String returns the string representation of the status.
func (s UpdateStatus) String() string {
	switch s {
	case StatusNoUpdate:
		return "no_update"
	case StatusUpdated:
		return "updated"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s UpdateStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *UpdateStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "no_update":
		*s = StatusNoUpdate
	case "updated":
		*s = StatusUpdated
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("unknown update status %q", string(text))
	}
	return nil
}
