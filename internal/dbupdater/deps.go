// ABOUTME: Narrow interfaces the update engine depends on
// ABOUTME: Satisfied by transport, redis, events, and gcs implementations

package dbupdater

import (
	"context"
	"time"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/transport"
)

// Getter performs HTTP GETs with truncation retry.
type Getter interface {
	Get(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// TXTLookup resolves DNS TXT records.
type TXTLookup interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Locker serializes cycles across processes that share a mirror directory.
type Locker interface {
	// Acquire takes the lock or fails immediately if another holder has it.
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// DatabaseUpdatedEvent announces new content for one database.
type DatabaseUpdatedEvent struct {
	CycleID      string    `json:"cycle_id"`
	Database     string    `json:"database"`
	LocalVersion int       `json:"local_version,omitempty"`
	Patches      []string  `json:"patches,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EventPublisher announces cycle outcomes to other services.
type EventPublisher interface {
	PublishDatabaseUpdated(ctx context.Context, event DatabaseUpdatedEvent) error
}

// ArtifactPublisher copies updated files to secondary storage.
type ArtifactPublisher interface {
	PublishFile(ctx context.Context, name, path string) error
}

// Clock returns the current time. Tests replace it.
type Clock func() time.Time
