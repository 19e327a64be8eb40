// ABOUTME: Distributed cycle lock so one process updates a shared mirror at a time
// ABOUTME: SET NX with a random token and TTL, released by compare-and-delete

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process holds the lock.
var ErrLockHeld = errors.New("cycle lock held by another process")

// DefaultLockTTL bounds how long a crashed holder blocks other processes.
const DefaultLockTTL = 30 * time.Minute

const lockKey = "lock:cycle"

// Only the holder's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock is a non-blocking mutex stored in Redis.
type Lock struct {
	client *Client
	key    string
	ttl    time.Duration
}

// NewLock creates a lock under the client's prefix. A zero ttl uses
// DefaultLockTTL.
func NewLock(client *Client, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Lock{
		client: client,
		key:    client.PrefixedKey(lockKey),
		ttl:    ttl,
	}
}

// Key returns the full Redis key of the lock.
func (l *Lock) Key() string {
	return l.key
}

// Acquire takes the lock, returning ErrLockHeld if it is taken.
func (l *Lock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()

	ok, err := l.client.Redis().SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client.Redis(), []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("releasing %s: %w", l.key, err)
		}
		if n == 0 {
			return fmt.Errorf("releasing %s: lock expired before release", l.key)
		}
		return nil
	}
	return release, nil
}
