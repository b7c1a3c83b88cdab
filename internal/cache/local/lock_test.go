package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

func TestAcquireRelease(t *testing.T) {
	lm := NewLockManager()
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "BTCUSDT", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "BTCUSDT", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	_, err = lm.Acquire(ctx, "ETHUSDT", time.Minute)
	assert.NoError(t, err)

	unlock()
	unlock()

	_, err = lm.Acquire(ctx, "BTCUSDT", time.Minute)
	assert.NoError(t, err)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	now := time.Now()
	lm := NewLockManager()
	lm.nowFn = func() time.Time { return now }
	ctx := context.Background()

	staleUnlock, err := lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = lm.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	// The stale holder must not release the new lease.
	staleUnlock()
	_, err = lm.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}
