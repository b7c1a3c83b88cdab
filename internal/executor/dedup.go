package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// Deduper reports whether an event ID was already processed within its
// window, recording it when it was not.
type Deduper interface {
	Seen(ctx context.Context, id string) bool
}

// Dedup is the in-process Deduper. Safe for concurrent use.
type Dedup struct {
	seen  map[string]time.Time
	ttl   time.Duration
	nowFn func() time.Time
	mu    sync.Mutex
}

// NewDedup creates a Dedup that treats an ID as a duplicate for ttl after it
// was first seen.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		nowFn: time.Now,
	}
}

// Seen implements Deduper.
func (d *Dedup) Seen(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[id] = now
	return false
}

// Cleanup drops expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.nowFn()
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len returns the number of tracked IDs.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// LockDedup shares dedup state between processes by taking a lock per event
// ID that is never released and expires after the TTL.
type LockDedup struct {
	locks domain.LockManager
	ttl   time.Duration
}

// NewLockDedup wraps a LockManager.
func NewLockDedup(locks domain.LockManager, ttl time.Duration) *LockDedup {
	return &LockDedup{locks: locks, ttl: ttl}
}

// Seen implements Deduper. Lock backend errors count as unseen so an outage
// does not silently drop events.
func (d *LockDedup) Seen(ctx context.Context, id string) bool {
	_, err := d.locks.Acquire(ctx, domain.EventLockKey(id), d.ttl)
	return errors.Is(err, domain.ErrLockHeld)
}
