package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

func TestRiskDailyTradeLimitDenies(t *testing.T) {
	f := newFixture(t, RiskConfig{MaxDailyTrades: 10, DailyLossLimit: 100, MaxOpenPositions: 3})
	for i := 0; i < 10; i++ {
		f.risk.Record(0)
	}

	err := f.risk.Check(context.Background(), 10)
	requireRiskCheck(t, err, CheckDailyTrades)

	_, err = f.svc.OpenFromSignal(context.Background(), buy("BTCUSDT"))
	requireRiskCheck(t, err, CheckDailyTrades)

	open, err := f.positions.ListOpen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRiskAllChecksEvaluated(t *testing.T) {
	f := newFixture(t, RiskConfig{MaxDailyTrades: 1, DailyLossLimit: 5, MaxOpenPositions: 3})
	f.risk.Record(-6)

	err := f.risk.Check(context.Background(), 5000)
	var rle *domain.RiskLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, CheckDailyTrades, rle.Check)
	assert.Equal(t, []string{CheckDailyTrades, CheckDailyLoss, CheckBalance}, rle.Failed)
}

func TestRiskLossCountsOnlyNegative(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	f.risk.Record(4)
	f.risk.Record(-1.5)
	f.risk.Record(0)

	st := f.risk.Stats()
	assert.Equal(t, 3, st.DailyTrades)
	assert.InDelta(t, 1.5, st.DailyLoss, 1e-9)
}

type failingBalance struct{}

func (failingBalance) Balance(context.Context, string) (float64, error) {
	return 0, errors.New("venue down")
}

func TestRiskBalanceFailureDenies(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	r := NewRiskService(f.positions, failingBalance{}, RiskConfig{MaxDailyTrades: 5, DailyLossLimit: 10, MaxOpenPositions: 3}, discardLogger())
	requireRiskCheck(t, r.Check(context.Background(), 10), CheckBalance)
}

func TestRiskUTCRollover(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	now := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)
	f.risk.WithClock(func() time.Time { return now })

	f.risk.Record(-2)
	f.risk.Record(0)
	assert.Equal(t, 2, f.risk.Stats().DailyTrades)
	assert.Equal(t, "2024-03-01", f.risk.Stats().LastResetDate)

	now = now.Add(2 * time.Minute)
	st := f.risk.Stats()
	assert.Equal(t, 0, st.DailyTrades)
	assert.Zero(t, st.DailyLoss)
	assert.Equal(t, "2024-03-02", st.LastResetDate)
}

func TestRiskCanOpen(t *testing.T) {
	f := newFixture(t, RiskConfig{})
	ctx := context.Background()
	require.NoError(t, f.risk.CanOpen(ctx, "BTCUSDT"))

	_, err := f.svc.OpenFromSignal(ctx, buy("BTCUSDT"))
	require.NoError(t, err)
	requireRiskCheck(t, f.risk.CanOpen(ctx, "BTCUSDT"), CheckSymbolOpen)
}
