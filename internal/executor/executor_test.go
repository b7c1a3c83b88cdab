package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/cache/local"
	"github.com/alanyoungcy/sentibot/internal/domain"
)

type staticSignals struct {
	sigs []domain.TradingSignal
}

func (s staticSignals) Generate(_ context.Context, ev domain.NewsEvent) ([]domain.TradingSignal, error) {
	out := make([]domain.TradingSignal, len(s.sigs))
	for i, sig := range s.sigs {
		sig.EventID = ev.ID
		out[i] = sig
	}
	return out, nil
}

type scriptedOrders struct {
	mu    sync.Mutex
	calls []string
	errs  map[string]error
	panic string
}

func (o *scriptedOrders) Execute(_ context.Context, sig domain.TradingSignal) (domain.Position, error) {
	o.mu.Lock()
	o.calls = append(o.calls, sig.Symbol)
	o.mu.Unlock()
	if sig.Symbol == o.panic {
		panic("boom")
	}
	if err := o.errs[sig.Symbol]; err != nil {
		return domain.Position{}, err
	}
	return domain.Position{ID: "p-" + sig.Symbol, Status: domain.PositionStatusOpen}, nil
}

func newExec(events <-chan domain.NewsEvent, orders *scriptedOrders, symbols ...string) *Executor {
	var sigs []domain.TradingSignal
	for _, s := range symbols {
		sigs = append(sigs, domain.TradingSignal{Symbol: s, Action: domain.SignalActionBuy})
	}
	return NewExecutor(events, staticSignals{sigs: sigs}, orders, time.Hour,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleIsolatesSignalFailures(t *testing.T) {
	orders := &scriptedOrders{
		errs: map[string]error{
			"BTCUSDT": &domain.RiskLimitError{Check: "daily_trades"},
			"ETHUSDT": errors.New("store down"),
		},
		panic: "BNBUSDT",
	}
	e := newExec(nil, orders, "BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT")

	e.Handle(context.Background(), domain.NewsEvent{ID: "ev-1"})

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT"}, orders.calls)
	st := e.Stats()
	assert.Equal(t, int64(4), st.Signals)
	assert.Equal(t, int64(1), st.Executed)
	assert.Equal(t, int64(1), st.Denied)
	assert.Equal(t, int64(2), st.Failed)
}

func TestHandleSkipsDuplicateEvents(t *testing.T) {
	orders := &scriptedOrders{}
	e := newExec(nil, orders, "BTCUSDT")
	ctx := context.Background()

	e.Handle(ctx, domain.NewsEvent{ID: "ev-1"})
	e.Handle(ctx, domain.NewsEvent{ID: "ev-1"})
	e.Handle(ctx, domain.NewsEvent{})
	e.Handle(ctx, domain.NewsEvent{})

	assert.Len(t, orders.calls, 3)
	assert.Equal(t, int64(1), e.Stats().Duplicates)
}

func TestLockDedupSharesState(t *testing.T) {
	locks := local.NewLockManager()
	a := NewLockDedup(locks, time.Minute)
	b := NewLockDedup(locks, time.Minute)
	ctx := context.Background()

	assert.False(t, a.Seen(ctx, "ev-1"))
	assert.True(t, b.Seen(ctx, "ev-1"))
	assert.False(t, b.Seen(ctx, "ev-2"))
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.nowFn = func() time.Time { return now }
	ctx := context.Background()

	assert.False(t, d.Seen(ctx, "x"))
	assert.True(t, d.Seen(ctx, "x"))

	now = now.Add(2 * time.Minute)
	d.Cleanup()
	assert.Zero(t, d.Len())
	assert.False(t, d.Seen(ctx, "x"))
}

func TestRunStopsOnClosedChannel(t *testing.T) {
	events := make(chan domain.NewsEvent, 2)
	orders := &scriptedOrders{}
	e := newExec(events, orders, "BTCUSDT")

	events <- domain.NewsEvent{ID: "a"}
	events <- domain.NewsEvent{ID: "b"}
	close(events)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, int64(2), e.Stats().Executed)
}
