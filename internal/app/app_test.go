package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/config"
	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/platform/paper"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Server.Enabled = false
	cfg.Venue.PaperJitter = 0
	require.NoError(t, cfg.Validate())
	return &cfg
}

func testApp(t *testing.T, cfg *config.Config) (*App, *Dependencies) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := New(cfg, logger)
	deps, cleanup, err := Wire(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	return a, deps
}

func TestWireMemoryPaper(t *testing.T) {
	_, deps := testApp(t, testConfig(t))

	assert.Equal(t, "paper", deps.Venue.Name())
	assert.Equal(t, "memory", deps.StoreName)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.PriceCache)
	assert.Nil(t, deps.Archiver)
	assert.NotNil(t, deps.LockManager)
	assert.NotNil(t, deps.RateLimiter)
	assert.False(t, deps.Notifier.Enabled())
}

func TestEventToPositionThroughCore(t *testing.T) {
	a, deps := testApp(t, testConfig(t))
	c, err := a.buildCore(deps, true)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.supervisor.Start(ctx))
	defer c.supervisor.Stop()

	c.exec.Handle(ctx, domain.NewsEvent{
		ID:             "news-1",
		Sentiment:      domain.SentimentPositive,
		Score:          0.8,
		Confidence:     0.9,
		MentionedCoins: []string{"BTC"},
	})

	open, err := deps.PositionStore.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	pos := open[0]
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.InDelta(t, 0.000222, pos.Quantity, 1e-12)
	assert.InDelta(t, 40500, pos.StopLossPrice, 1e-6)

	assert.Eventually(t, func() bool {
		return c.supervisor.Status().TotalMonitors == 1
	}, time.Second, 10*time.Millisecond)

	c.exec.Handle(ctx, domain.NewsEvent{ID: "news-1", Sentiment: domain.SentimentPositive, Score: 0.8, Confidence: 0.9, MentionedCoins: []string{"ETH"}})
	assert.Equal(t, int64(1), c.exec.Stats().Duplicates)

	status := a.statusFunc(deps, c)()
	assert.Equal(t, 1, status.OpenPositions)
	assert.Equal(t, 1, status.Monitors)
	assert.Equal(t, "trade", status.Mode)
}

func TestMonitorCoreHasNoQueue(t *testing.T) {
	a, deps := testApp(t, testConfig(t))
	c, err := a.buildCore(deps, false)
	require.NoError(t, err)
	assert.Nil(t, c.queue)
	assert.Nil(t, c.exec)
	assert.Zero(t, a.statusFunc(deps, c)().QueueDepth)
}

func TestTradeModeStopsOnCancel(t *testing.T) {
	a, deps := testApp(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.TradeMode(ctx, deps) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("trade mode did not stop")
	}
}

func TestSeedPaperHoldings(t *testing.T) {
	_, deps := testApp(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, deps.PositionStore.Create(ctx, domain.Position{
		ID: "p1", Symbol: "ETHUSDT", Quantity: 0.5, EntryPrice: 2800,
		Status: domain.PositionStatusOpen, IsMonitoring: true,
		OpenedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	pv, ok := deps.Venue.(*paper.Venue)
	require.True(t, ok)
	require.NoError(t, seedPaperHoldings(ctx, pv, deps.PositionStore))

	bal, err := pv.Balance(ctx, "ETH")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, bal, 1e-12)
}
