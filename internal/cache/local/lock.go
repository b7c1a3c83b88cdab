// Package local provides in-process stand-ins for the Redis-backed cache
// primitives, used when Redis is not configured.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// LockManager is a process-local domain.LockManager. Locks expire after
// their TTL like their Redis counterparts so a leaked unlock cannot wedge a
// key forever.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]lease
	nowFn func() time.Time
	seq   uint64
}

type lease struct {
	id      uint64
	expires time.Time
}

// NewLockManager returns an empty lock table.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]lease), nowFn: time.Now}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.nowFn()
	if l, ok := lm.held[key]; ok && (ttl <= 0 || now.Before(l.expires)) {
		return nil, domain.ErrLockHeld
	}

	lm.seq++
	id := lm.seq
	exp := now.Add(ttl)
	if ttl <= 0 {
		exp = now.Add(24 * time.Hour)
	}
	lm.held[key] = lease{id: id, expires: exp}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.held[key]; ok && l.id == id {
				delete(lm.held, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
