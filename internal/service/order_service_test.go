package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

func TestOpenFromSignalBTC(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()

	pos, err := f.svc.OpenFromSignal(ctx, buy("BTCUSDT"))
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.InDelta(t, 0.000222, pos.Quantity, 1e-12)
	assert.InDelta(t, 45000, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 40500, pos.StopLossPrice, 1e-9)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.True(t, pos.IsMonitoring)
	assert.Equal(t, []string{pos.ID}, f.tracked.ids)
	assert.Equal(t, 1, f.risk.Stats().DailyTrades)

	stored, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.EntryOrderID, stored.EntryOrderID)

	order, err := f.orders.GetByID(ctx, pos.EntryOrderID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, order.PositionID)
	assert.Equal(t, domain.OrderSideBuy, order.Side)
	assert.Equal(t, domain.OrderStatusFilled, order.Status)
	assert.Equal(t, "ev-1", order.EventID)

	base, err := f.venue.Balance(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0.000222, base, 1e-12)
	assert.Equal(t, []string{EventPositionOpened}, f.notes.events)
}

func TestOpenPerSymbolAmount(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	f.svc.cfg.TradeAmounts = map[string]float64{"ETHUSDT": 28}

	pos, err := f.svc.OpenFromSignal(context.Background(), buy("ethusdt"))
	require.NoError(t, err)
	assert.InDelta(t, 0.01, pos.Quantity, 1e-12)
}

func TestOpenUnknownSymbol(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	_, err := f.svc.OpenFromSignal(context.Background(), buy("XRPUSDT"))
	require.ErrorIs(t, err, domain.ErrUnknownSymbol)
	assert.Zero(t, f.risk.Stats().DailyTrades)
}

func TestConcurrentOpenSameSymbol(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.OpenFromSignal(ctx, buy("BTCUSDT"))
		}(i)
	}
	wg.Wait()

	var ok, denied int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			requireRiskCheck(t, err, CheckSymbolOpen)
			denied++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, denied)

	open, err := f.positions.ListOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestStopLossClose(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()

	pos, err := f.svc.OpenFromSignal(ctx, buy("BTCUSDT"))
	require.NoError(t, err)

	f.venue.SetPrice("BTCUSDT", 40000)
	closed, err := f.svc.ClosePosition(ctx, pos.ID, domain.CloseReasonStopLoss)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusStopped, closed.Status)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, -1.11, *closed.RealizedPnL, 1e-9)

	stored, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusStopped, stored.Status)
	assert.False(t, stored.IsMonitoring)
	require.NotNil(t, stored.RealizedPnL)
	assert.InDelta(t, -1.11, *stored.RealizedPnL, 1e-9)
	assert.NotEmpty(t, stored.ExitOrderID)

	st := f.risk.Stats()
	assert.Equal(t, 2, st.DailyTrades)
	assert.InDelta(t, 1.11, st.DailyLoss, 1e-9)
	assert.Contains(t, f.notes.events, EventStopLossTriggered)
}

func TestDoubleCloseReportsNotOpen(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()

	pos, err := f.svc.OpenFromSignal(ctx, buy("ETHUSDT"))
	require.NoError(t, err)

	_, err = f.svc.ClosePosition(ctx, pos.ID, domain.CloseReasonManual)
	require.NoError(t, err)

	_, err = f.svc.ClosePosition(ctx, pos.ID, domain.CloseReasonStopLoss)
	require.ErrorIs(t, err, domain.ErrPositionNotOpen)

	stored, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.Equal(t, 2, f.risk.Stats().DailyTrades)
}

func TestConcurrentClosesSettleOnce(t *testing.T) {
	f := newFixture(t, RiskConfig{MaxDailyTrades: 1000, DailyLossLimit: 1000, MaxOpenPositions: 3, QuoteAsset: "USDT"})
	ctx := context.Background()
	const rounds = 25

	for i := 0; i < rounds; i++ {
		pos, err := f.svc.OpenFromSignal(ctx, buy("BTCUSDT"))
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			errs = make([]error, 2)
		)
		for j, reason := range []domain.CloseReason{domain.CloseReasonStopLoss, domain.CloseReasonManual} {
			wg.Add(1)
			go func(j int, reason domain.CloseReason) {
				defer wg.Done()
				_, errs[j] = f.svc.ClosePosition(ctx, pos.ID, reason)
			}(j, reason)
		}
		wg.Wait()

		var ok int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			require.ErrorIs(t, err, domain.ErrPositionNotOpen)
		}
		require.Equal(t, 1, ok, "round %d", i)

		stored, err := f.positions.GetByID(ctx, pos.ID)
		require.NoError(t, err)
		assert.True(t, stored.Status.Terminal())
	}

	assert.Equal(t, 2*rounds, f.risk.Stats().DailyTrades)
	held, err := f.venue.Balance(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0, held, 1e-12)
}

func TestCloseWithNothingExecutedKeepsPositionOpen(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()
	venue := &scriptedVenue{Venue: f.venue}
	svc := f.serviceWith(venue, f.positions, f.orders)

	pos, err := svc.OpenFromSignal(ctx, buy("BTCUSDT"))
	require.NoError(t, err)

	venue.fills = map[domain.OrderSide]domain.ExecutionReport{
		domain.OrderSideSell: {VenueOrderID: "x1", Status: "EXPIRED", ExecutedQuantity: 0},
	}
	venue.quoteErr = errors.New("quote unavailable")

	_, err = svc.ClosePosition(ctx, pos.ID, domain.CloseReasonStopLoss)
	require.ErrorIs(t, err, domain.ErrRejectedOrder)

	stored, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)
	assert.True(t, stored.IsMonitoring)
	assert.Nil(t, stored.RealizedPnL)

	st := f.risk.Stats()
	assert.Equal(t, 1, st.DailyTrades)
	assert.Zero(t, st.DailyLoss)

	held, err := f.venue.Balance(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0.000222, held, 1e-12)
}

func TestOpenWithNothingExecutedCreatesNoPosition(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()
	venue := &scriptedVenue{
		Venue: f.venue,
		fills: map[domain.OrderSide]domain.ExecutionReport{
			domain.OrderSideBuy: {VenueOrderID: "x2", Status: "EXPIRED", ExecutedQuantity: 0},
		},
	}

	_, err := f.serviceWith(venue, f.positions, f.orders).OpenFromSignal(ctx, buy("BTCUSDT"))
	require.ErrorIs(t, err, domain.ErrRejectedOrder)

	open, err := f.positions.ListOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	orders, err := f.orders.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Zero(t, f.risk.Stats().DailyTrades)
	assert.Empty(t, f.tracked.ids)
}

func TestUnpricedSellIsReported(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()
	venue := &scriptedVenue{Venue: f.venue}
	svc := f.serviceWith(venue, f.positions, f.orders)

	pos, err := svc.OpenFromSignal(ctx, buy("BTCUSDT"))
	require.NoError(t, err)

	venue.fills = map[domain.OrderSide]domain.ExecutionReport{
		domain.OrderSideSell: {VenueOrderID: "x3", Status: domain.OrderStatusFilled, ExecutedQuantity: pos.Quantity},
	}
	venue.quoteErr = errors.New("quote unavailable")

	_, err = svc.ClosePosition(ctx, pos.ID, domain.CloseReasonStopLoss)
	require.ErrorIs(t, err, domain.ErrUnpricedFill)

	st := f.risk.Stats()
	assert.Equal(t, 2, st.DailyTrades)
	assert.Zero(t, st.DailyLoss)
}

func TestPartialSellRealizesSoldQuantity(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()
	venue := &scriptedVenue{Venue: f.venue}
	svc := f.serviceWith(venue, f.positions, f.orders)

	pos, err := svc.OpenFromSignal(ctx, buy("BTCUSDT"))
	require.NoError(t, err)

	venue.fills = map[domain.OrderSide]domain.ExecutionReport{
		domain.OrderSideSell: {
			VenueOrderID: "x4", Status: domain.OrderStatusPartiallyFilled,
			ExecutedQuantity: 0.0001, ExecutedPrice: 40000,
		},
	}

	closed, err := svc.ClosePosition(ctx, pos.ID, domain.CloseReasonStopLoss)
	require.NoError(t, err)
	require.NotNil(t, closed.RealizedPnL)
	assert.InDelta(t, -0.5, *closed.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.5, f.risk.Stats().DailyLoss, 1e-9)
}

func TestFillSettlesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	venue := &scriptedVenue{Venue: f.venue}
	svc := f.serviceWith(venue, ctxPositionStore{f.positions}, ctxOrderStore{f.orders})

	openCtx, cancelOpen := context.WithCancel(context.Background())
	defer cancelOpen()
	venue.afterFill = cancelOpen

	pos, err := svc.OpenFromSignal(openCtx, buy("BTCUSDT"))
	require.NoError(t, err)
	require.Error(t, openCtx.Err())

	ctx := context.Background()
	stored, err := f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)
	order, err := f.orders.GetByID(ctx, pos.EntryOrderID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, order.PositionID)

	closeCtx, cancelClose := context.WithCancel(context.Background())
	defer cancelClose()
	venue.afterFill = cancelClose

	_, err = svc.ClosePosition(closeCtx, pos.ID, domain.CloseReasonManual)
	require.NoError(t, err)
	require.Error(t, closeCtx.Err())

	stored, err = f.positions.GetByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)
	assert.NotEmpty(t, stored.ExitOrderID)

	held, err := f.venue.Balance(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0, held, 1e-12)
	assert.Equal(t, 2, f.risk.Stats().DailyTrades)
}

func TestCloseBySignal(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()

	_, err := f.svc.Execute(ctx, domain.TradingSignal{Symbol: "BTCUSDT", Action: domain.SignalActionSell})
	require.ErrorIs(t, err, domain.ErrPositionNotOpen)

	pos, err := f.svc.Execute(ctx, buy("BTCUSDT"))
	require.NoError(t, err)

	closed, err := f.svc.Execute(ctx, domain.TradingSignal{Symbol: "BTCUSDT", Action: domain.SignalActionSell})
	require.NoError(t, err)
	assert.Equal(t, pos.ID, closed.ID)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)

	orders, err := f.orders.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestQuantityPrecision(t *testing.T) {
	assert.InDelta(t, 0.000222, QuantityFor("BTCUSDT", 10, 45000), 1e-12)
	assert.InDelta(t, 0.00357, QuantityFor("ETHUSDT", 10, 2800), 1e-12)
	assert.InDelta(t, 11.7647, QuantityFor("ADAUSDT", 10, 0.85), 1e-12)
	assert.Zero(t, QuantityFor("BTCUSDT", 10, 0))
	assert.Zero(t, QuantityFor("BTCUSDT", 0.01, 1e9))
	assert.Equal(t, "0.000222", formatQty("BTCUSDT", 0.000222))

	assert.Equal(t, int32(6), QuantityPrecision("ETHBTC"))
	assert.Equal(t, int32(6), QuantityPrecision("wbtcusdt"))
	assert.Equal(t, int32(5), QuantityPrecision("STETHUSDT"))
	assert.Equal(t, int32(4), QuantityPrecision("SOLUSDT"))
}

func TestSummary(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()

	pos, err := f.svc.OpenFromSignal(ctx, buy("BTCUSDT"))
	require.NoError(t, err)
	f.venue.SetPrice("BTCUSDT", 40000)
	_, err = f.svc.ClosePosition(ctx, pos.ID, domain.CloseReasonStopLoss)
	require.NoError(t, err)
	_, err = f.svc.OpenFromSignal(ctx, buy("ETHUSDT"))
	require.NoError(t, err)

	sum, err := NewSummaryService(f.positions, f.orders, f.venue, f.risk, 0, discardLogger()).Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalTrades)
	assert.Equal(t, 1, sum.OpenPositionsCount)
	assert.InDelta(t, -1.11, sum.TotalRealizedPnL, 1e-9)
	assert.Len(t, sum.RecentOrders, 3)
	assert.Equal(t, "ETHUSDT", sum.OpenPositions[0].Symbol)
	assert.Contains(t, sum.Balances, "USDT")
	assert.Equal(t, 3, sum.RiskStats.DailyTrades)
}
