// ABOUTME: Message types exchanged over NATS
// ABOUTME: Update requests with their replies; update announcements live in dbupdater

package events

import "time"

// UpdateRequest asks the daemon to run an update cycle.
type UpdateRequest struct {
	// Optional request ID for correlation.
	RequestID string `json:"request_id,omitempty"`

	// Databases to update. Empty means all.
	Databases []string `json:"databases,omitempty"`
}

// UpdateResponse is the reply to an UpdateRequest.
type UpdateResponse struct {
	RequestID string `json:"request_id,omitempty"`

	// Accepted is false when a triggered cycle is already queued.
	Accepted bool `json:"accepted"`

	// Error is set when the request could not be parsed.
	Error string `json:"error,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}
