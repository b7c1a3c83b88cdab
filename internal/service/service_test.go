package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/cache/local"
	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/platform/paper"
	"github.com/alanyoungcy/sentibot/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	positions *memory.PositionStore
	orders    *memory.OrderStore
	audit     *memory.AuditStore
	venue     *paper.Venue
	risk      *RiskService
	svc       *OrderService
	tracked   *trackRecorder
	notes     *noteRecorder
}

type trackRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (t *trackRecorder) Track(_ context.Context, pos domain.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids = append(t.ids, pos.ID)
}

type noteRecorder struct {
	mu     sync.Mutex
	events []string
}

func (n *noteRecorder) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func newFixture(t *testing.T, riskCfg RiskConfig) *fixture {
	t.Helper()
	f := &fixture{
		positions: memory.NewPositionStore(),
		orders:    memory.NewOrderStore(),
		audit:     memory.NewAuditStore(),
		venue: paper.New(paper.Config{
			QuoteAsset:    "USDT",
			StartingQuote: 1000,
			Prices:        map[string]float64{"BTCUSDT": 45000, "ETHUSDT": 2800},
		}),
		tracked: &trackRecorder{},
		notes:   &noteRecorder{},
	}
	if riskCfg.MaxDailyTrades == 0 {
		riskCfg = RiskConfig{MaxDailyTrades: 10, DailyLossLimit: 100, MaxOpenPositions: 3, QuoteAsset: "USDT"}
	}
	f.risk = NewRiskService(f.positions, f.venue, riskCfg, discardLogger())
	f.svc = NewOrderService(f.positions, f.orders, f.audit, f.venue, f.risk, local.NewLockManager(),
		OrderConfig{TradeAmountUSDT: 10, StopLossPercentage: 0.1},
		discardLogger(),
	).WithTracker(f.tracked).WithNotifier(f.notes)
	return f
}

// serviceWith builds an OrderService over the fixture's risk gate with the
// given venue and stores swapped in.
func (f *fixture) serviceWith(venue domain.Venue, positions domain.PositionStore, orders domain.OrderStore) *OrderService {
	return NewOrderService(positions, orders, f.audit, venue, f.risk, local.NewLockManager(),
		OrderConfig{TradeAmountUSDT: 10, StopLossPercentage: 0.1},
		discardLogger(),
	).WithTracker(f.tracked)
}

// scriptedVenue wraps the paper venue. A scripted report for a side replaces
// the real fill; afterFill runs once a real fill completes.
type scriptedVenue struct {
	*paper.Venue
	fills     map[domain.OrderSide]domain.ExecutionReport
	quoteErr  error
	afterFill func()
}

func (v *scriptedVenue) Quote(ctx context.Context, symbol string) (float64, error) {
	if v.quoteErr != nil {
		return 0, v.quoteErr
	}
	return v.Venue.Quote(ctx, symbol)
}

func (v *scriptedVenue) MarketOrder(ctx context.Context, symbol string, side domain.OrderSide, qty float64) (domain.ExecutionReport, error) {
	if rep, ok := v.fills[side]; ok {
		return rep, nil
	}
	rep, err := v.Venue.MarketOrder(ctx, symbol, side, qty)
	if v.afterFill != nil {
		v.afterFill()
	}
	return rep, err
}

// ctxPositionStore and ctxOrderStore fail writes on a done context the way
// the SQL stores do.
type ctxPositionStore struct{ *memory.PositionStore }

func (s ctxPositionStore) Create(ctx context.Context, p domain.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.PositionStore.Create(ctx, p)
}

func (s ctxPositionStore) Close(ctx context.Context, id string, c domain.PositionClose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.PositionStore.Close(ctx, id, c)
}

type ctxOrderStore struct{ *memory.OrderStore }

func (s ctxOrderStore) Create(ctx context.Context, o domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.OrderStore.Create(ctx, o)
}

func (s ctxOrderStore) LinkPosition(ctx context.Context, orderID, positionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.OrderStore.LinkPosition(ctx, orderID, positionID)
}

func buy(symbol string) domain.TradingSignal {
	return domain.TradingSignal{Symbol: symbol, Action: domain.SignalActionBuy, EventID: "ev-1", Confidence: 0.9}
}

func requireRiskCheck(t *testing.T, err error, check string) {
	t.Helper()
	require.ErrorIs(t, err, domain.ErrRiskLimitExceeded)
	var rle *domain.RiskLimitError
	require.ErrorAs(t, err, &rle)
	require.Equal(t, check, rle.Check)
}
