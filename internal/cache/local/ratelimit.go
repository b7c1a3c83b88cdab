package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// RateLimiter is a process-local sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu         sync.Mutex
	hits       map[string][]time.Time
	waitLimit  int
	waitWindow time.Duration
	nowFn      func() time.Time
}

// NewRateLimiter creates a RateLimiter. waitLimit and waitWindow are the
// budget applied by Wait.
func NewRateLimiter(waitLimit int, waitWindow time.Duration) *RateLimiter {
	if waitLimit <= 0 {
		waitLimit = 1
	}
	if waitWindow <= 0 {
		waitWindow = time.Second
	}
	return &RateLimiter{
		hits:       make(map[string][]time.Time),
		waitLimit:  waitLimit,
		waitWindow: waitWindow,
		nowFn:      time.Now,
	}
}

// Allow reports whether a request for key fits in the window, counting it if
// so.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return false, nil
	}
	rl.hits[key] = append(kept, now)
	return true, nil
}

// Wait blocks until a request for key is allowed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, _ := rl.Allow(ctx, key, rl.waitLimit, rl.waitWindow)
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
