// ABOUTME: Tests for the in-process cycle lock
// ABOUTME: Exclusive acquisition, context-aware waiting, and idempotent release

package dbupdater

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCycleLock_AcquireRelease(t *testing.T) {
	t.Parallel()

	l := NewCycleLock()

	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !l.IsRunning() {
		t.Error("IsRunning() = false after Acquire()")
	}
	if s := l.Status(); !s.Running || s.Since.IsZero() {
		t.Errorf("Status() = %+v", s)
	}

	release()
	if l.IsRunning() {
		t.Error("IsRunning() = true after release")
	}
}

func TestCycleLock_WaitsForHolder(t *testing.T) {
	t.Parallel()

	l := NewCycleLock()
	release, _ := l.Acquire(context.Background())

	var acquired atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		r, err := l.Acquire(context.Background())
		if err != nil {
			t.Errorf("waiting Acquire() error = %v", err)
			return
		}
		acquired.Store(true)
		r()
	}()

	time.Sleep(50 * time.Millisecond)
	if acquired.Load() {
		t.Fatal("second Acquire() did not wait")
	}
	if l.Status().Waiters != 1 {
		t.Errorf("Waiters = %d, want 1", l.Status().Waiters)
	}

	release()
	<-done
	if !acquired.Load() {
		t.Error("waiter never acquired the lock")
	}
}

func TestCycleLock_ContextCancelled(t *testing.T) {
	t.Parallel()

	l := NewCycleLock()
	release, _ := l.Acquire(context.Background())
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want deadline exceeded", err)
	}
	if l.Status().Waiters != 0 {
		t.Errorf("Waiters = %d after cancel, want 0", l.Status().Waiters)
	}
}

func TestCycleLock_DoubleRelease_Safe(t *testing.T) {
	t.Parallel()

	l := NewCycleLock()
	release, _ := l.Acquire(context.Background())

	release()
	release()

	release2, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after double release error = %v", err)
	}

	// The stale release must not free the new holder.
	release()
	if !l.IsRunning() {
		t.Error("stale release freed the lock")
	}
	release2()
}

func TestCycleLock_Exclusive(t *testing.T) {
	t.Parallel()

	l := NewCycleLock()

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			release()
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive.Load())
	}
}
