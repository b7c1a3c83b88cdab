package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

func TestCloseIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	require.NoError(t, s.Create(ctx, domain.Position{
		ID: "p1", Symbol: "BTCUSDT", Quantity: 1, EntryPrice: 100,
		Status: domain.PositionStatusOpen, IsMonitoring: true,
	}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Close(ctx, "p1", domain.PositionClose{Status: domain.PositionStatusClosed, ExitPrice: 110, RealizedPnL: 10})
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrPositionNotOpen)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	p, err := s.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, p.Status)
	assert.False(t, p.IsMonitoring)
}

func TestCreateRejectsSecondOpenForSymbol(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	require.NoError(t, s.Create(ctx, domain.Position{ID: "a", Symbol: "SOLUSDT", Status: domain.PositionStatusOpen}))
	err := s.Create(ctx, domain.Position{ID: "b", Symbol: "SOLUSDT", Status: domain.PositionStatusOpen})
	assert.ErrorIs(t, err, domain.ErrPositionExists)
}

func TestReturnedPositionsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewPositionStore()
	require.NoError(t, s.Create(ctx, domain.Position{ID: "a", Symbol: "SOLUSDT", Status: domain.PositionStatusOpen}))
	require.NoError(t, s.Close(ctx, "a", domain.PositionClose{Status: domain.PositionStatusClosed, RealizedPnL: 5}))

	p, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	*p.RealizedPnL = 99

	again, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, 5, *again.RealizedPnL, 1e-9)
}

func TestOrderListPagination(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStore()
	for _, id := range []string{"o1", "o2", "o3"} {
		require.NoError(t, s.Create(ctx, domain.Order{ID: id, Symbol: "BTCUSDT"}))
	}
	list, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = s.List(ctx, domain.ListOpts{Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, list)
}
