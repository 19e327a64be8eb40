// ABOUTME: Publishes per-database cycle outcomes into Redis hashes
// ABOUTME: Lets other services read mirror state without access to the metadata file

package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikmaai-io/hikmaai-cvdmirror/internal/dbupdater"
)

// StatusPublisherConfig holds configuration for the status publisher.
type StatusPublisherConfig struct {
	// KeyPrefix is prepended to database names to form hash keys.
	// Example: "db:" results in keys like "cvdmirror:db:daily.cvd".
	KeyPrefix string

	// TTL expires entries for databases that stop being updated.
	TTL time.Duration
}

// StatusPublisher writes the last result of each database to a Redis hash.
type StatusPublisher struct {
	client    *Client
	keyPrefix string
	ttl       time.Duration
}

// NewStatusPublisher creates a status publisher.
func NewStatusPublisher(client *Client, cfg StatusPublisherConfig) *StatusPublisher {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "db:"
	}
	return &StatusPublisher{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
	}
}

// DatabaseKey returns the hash key for a database.
func (p *StatusPublisher) DatabaseKey(name string) string {
	return p.client.PrefixedKey(p.keyPrefix + name)
}

// PublishCycle writes one hash per database in the cycle and deletes the
// hashes of databases that are no longer tracked, in a single transaction.
func (p *StatusPublisher) PublishCycle(ctx context.Context, result *dbupdater.CycleResult) error {
	if result == nil || (len(result.Databases) == 0 && len(result.Removed) == 0) {
		return nil
	}

	_, err := p.client.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, name := range result.Removed {
			pipe.Del(ctx, p.DatabaseKey(name))
		}
		for _, db := range result.Databases {
			key := p.DatabaseKey(db.Name)
			pipe.HSet(ctx, key,
				"status", db.Status.String(),
				"method", string(db.Method),
				"local_version", strconv.Itoa(db.LocalVersion),
				"remote_version", strconv.Itoa(db.RemoteVersion),
				"patches_written", strconv.Itoa(db.PatchesWritten),
				"error", db.Error,
				"cycle_id", result.ID,
				"checked_at", result.Finished.UTC().Format(time.RFC3339),
			)
			if p.ttl > 0 {
				pipe.Expire(ctx, key, p.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publishing status for cycle %s: %w", result.ID, err)
	}
	return nil
}
