// ABOUTME: In-process cycle lock serializing update cycles
// ABOUTME: Context-aware waiting built on a broadcast channel

package dbupdater

import (
	"context"
	"sync"
	"time"
)

// CycleLockStatus reports the state of a CycleLock.
type CycleLockStatus struct {
	// Running indicates a cycle holds the lock.
	Running bool

	// Since is when the current holder acquired the lock.
	Since time.Time

	// Waiters is the number of callers blocked in Acquire.
	Waiters int
}

// CycleLock ensures at most one update cycle runs at a time in this process.
//
// Uses channel-based signaling for context-aware waiting without goroutine leaks.
type CycleLock struct {
	mu      sync.Mutex
	running bool
	since   time.Time
	waiters int

	// broadcast is closed to wake all waiters, then recreated.
	broadcast chan struct{}
}

// NewCycleLock creates an unlocked cycle lock.
func NewCycleLock() *CycleLock {
	return &CycleLock{
		broadcast: make(chan struct{}),
	}
}

// signal wakes all waiters by closing and recreating the broadcast channel.
// Must be called with mu held.
func (l *CycleLock) signal() {
	close(l.broadcast)
	l.broadcast = make(chan struct{})
}

// Acquire blocks until the lock is free or ctx is done.
// Returns a release function that must be called when the cycle completes.
func (l *CycleLock) Acquire(ctx context.Context) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	for l.running {
		wait := l.broadcast
		l.waiters++
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			l.mu.Lock()
			l.waiters--
			l.mu.Unlock()
			return nil, ctx.Err()
		}

		l.mu.Lock()
		l.waiters--
	}

	l.take()
	l.mu.Unlock()

	return l.releaser(), nil
}

// take marks the lock held. Must be called with mu held.
func (l *CycleLock) take() {
	l.running = true
	l.since = time.Now()
}

func (l *CycleLock) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.running = false
			l.since = time.Time{}
			l.signal()
			l.mu.Unlock()
		})
	}
}

// IsRunning reports whether a cycle holds the lock.
func (l *CycleLock) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Status returns the current lock state.
func (l *CycleLock) Status() CycleLockStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return CycleLockStatus{
		Running: l.running,
		Since:   l.since,
		Waiters: l.waiters,
	}
}
