package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/cache/local"
	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/feed"
	"github.com/alanyoungcy/sentibot/internal/monitor"
	"github.com/alanyoungcy/sentibot/internal/platform/paper"
	"github.com/alanyoungcy/sentibot/internal/server/handler"
	"github.com/alanyoungcy/sentibot/internal/service"
	"github.com/alanyoungcy/sentibot/internal/store/memory"
)

const testKey = "s3cret"

type testEnv struct {
	srv       *Server
	orders    *service.OrderService
	positions *memory.PositionStore
	sup       *monitor.Supervisor
	queue     *feed.Queue
}

func newTestEnv(t *testing.T, limit int) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	positions := memory.NewPositionStore()
	orderStore := memory.NewOrderStore()
	audit := memory.NewAuditStore()
	venue := paper.New(paper.Config{
		QuoteAsset:    "USDT",
		StartingQuote: 1000,
		Prices:        map[string]float64{"BTCUSDT": 45000, "ETHUSDT": 2800},
	})
	risk := service.NewRiskService(positions, venue, service.RiskConfig{
		MaxDailyTrades: 10, DailyLossLimit: 100, MaxOpenPositions: 3, QuoteAsset: "USDT",
	}, logger)
	orders := service.NewOrderService(positions, orderStore, audit, venue, risk, local.NewLockManager(),
		service.OrderConfig{TradeAmountUSDT: 10, StopLossPercentage: 0.1}, logger)
	sup := monitor.NewSupervisor(positions, venue, orders, monitor.Config{PollInterval: time.Hour}, logger)
	orders.WithTracker(sup)
	prices := service.NewPriceService(venue, nil, nil, logger)
	summary := service.NewSummaryService(positions, orderStore, venue, risk, 0, logger)
	queue := feed.NewQueue(1, feed.BackpressureDropNewest)

	status := func() domain.BotStatus {
		return domain.BotStatus{Mode: "full", Venue: venue.Name(), Store: "memory", QueueDepth: queue.Len()}
	}
	h := Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Status:    handler.NewStatusHandler(status, map[string]string{"api_key": "***"}),
		Trading:   handler.NewTradingHandler(summary, sup, prices, risk, []string{"BTCUSDT", "ETHUSDT"}, logger),
		Positions: handler.NewPositionHandler(positions, orders, sup, logger),
		Orders:    handler.NewOrderHandler(orderStore, audit, logger),
		Events:    handler.NewEventHandler(queue, logger),
	}
	cfg := Config{Port: 0, APIKey: testKey, RateLimit: limit, RateLimitWindow: time.Minute}
	return &testEnv{
		srv:       NewServer(cfg, h, nil, local.NewRateLimiter(1, time.Second), logger),
		orders:    orders,
		positions: positions,
		sup:       sup,
		queue:     queue,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", "Bearer "+testKey)
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) open(t *testing.T, symbol string) domain.Position {
	t.Helper()
	pos, err := e.orders.Execute(context.Background(), domain.TradingSignal{
		Symbol: symbol, Action: domain.SignalActionBuy, EventID: "ev-1", Confidence: 0.9,
	})
	require.NoError(t, err)
	return pos
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusAndConfig(t *testing.T) {
	env := newTestEnv(t, 0)

	st := decode[domain.BotStatus](t, env.do(t, http.MethodGet, "/api/status", ""))
	assert.Equal(t, "paper", st.Venue)
	assert.Equal(t, "full", st.Mode)

	cfg := decode[map[string]string](t, env.do(t, http.MethodGet, "/api/config", ""))
	assert.Equal(t, "***", cfg["api_key"])
}

func TestTradingSummaryAndPositions(t *testing.T) {
	env := newTestEnv(t, 0)
	pos := env.open(t, "BTCUSDT")

	rec := env.do(t, http.MethodGet, "/api/trading-summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[domain.TradingSummary](t, rec)
	assert.Equal(t, 1, sum.TotalTrades)
	assert.Equal(t, 1, sum.OpenPositionsCount)
	assert.Len(t, sum.RecentOrders, 1)

	list := decode[struct {
		Positions []domain.Position `json:"positions"`
	}](t, env.do(t, http.MethodGet, "/api/positions?status=open", ""))
	require.Len(t, list.Positions, 1)
	assert.Equal(t, pos.ID, list.Positions[0].ID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/positions?status=weird", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/orders?since=yesterday", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/positions/missing", "").Code)

	got := decode[domain.Position](t, env.do(t, http.MethodGet, "/api/positions/"+pos.ID, ""))
	assert.InDelta(t, 40500, got.StopLossPrice, 1e-9)

	orders := decode[struct {
		Orders []domain.Order `json:"orders"`
	}](t, env.do(t, http.MethodGet, "/api/orders", ""))
	assert.Len(t, orders.Orders, 1)

	risk := decode[domain.RiskStats](t, env.do(t, http.MethodGet, "/api/risk", ""))
	assert.Equal(t, 1, risk.DailyTrades)
}

func TestManualClose(t *testing.T) {
	env := newTestEnv(t, 0)
	pos := env.open(t, "ETHUSDT")

	rec := env.do(t, http.MethodPost, "/api/positions/"+pos.ID+"/close", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode[domain.Position](t, rec)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)

	rec = env.do(t, http.MethodPost, "/api/positions/"+pos.ID+"/close", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateStopLoss(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, env.sup.Start(ctx))
	defer env.sup.Stop()

	pos := env.open(t, "BTCUSDT")

	rec := env.do(t, http.MethodPut, "/api/positions/"+pos.ID+"/stop-loss", `{"stop_loss_price": 42000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stored, err := env.positions.GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.InDelta(t, 42000, stored.StopLossPrice, 1e-9)

	status := decode[domain.MonitoringStatus](t, env.do(t, http.MethodGet, "/api/stop-loss-status", ""))
	require.Equal(t, 1, status.TotalMonitors)
	assert.InDelta(t, 42000, status.MonitoredPositions[0].StopLossPrice, 1e-9)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/positions/nope/stop-loss", `{"stop_loss_price": 1}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/positions/"+pos.ID+"/stop-loss", `{"stop_loss_price": -1}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPut, "/api/positions/"+pos.ID+"/stop-loss", `{"price": 1}`).Code)
}

func TestIngestEvent(t *testing.T) {
	env := newTestEnv(t, 0)
	body := `{"id": 7, "sentiment": "positive", "score": 0.8, "confidence": 0.9, "mentioned_coins": ["BTC"]}`

	rec := env.do(t, http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, env.queue.Len())
	ev := <-env.queue.C()
	assert.Equal(t, "7", ev.ID)

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/events", `{"sentiment": "euphoric"}`).Code)

	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/events", body).Code)
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodPost, "/api/events", body).Code)
	assert.Equal(t, int64(1), env.queue.Dropped())
}

func TestPrices(t *testing.T) {
	env := newTestEnv(t, 0)
	out := decode[struct {
		Prices map[string]float64 `json:"prices"`
	}](t, env.do(t, http.MethodGet, "/api/prices?symbols=btcusdt", ""))
	assert.Equal(t, map[string]float64{"BTCUSDT": 45000}, out.Prices)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, 2)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/risk", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/risk", "").Code)

	rec := env.do(t, http.MethodGet, "/api/risk", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, 0)
	req := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
