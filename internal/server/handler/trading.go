package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// SummaryReader builds the trading summary.
type SummaryReader interface {
	Summary(ctx context.Context) (domain.TradingSummary, error)
}

// MonitorReader reports stop-loss supervisor state.
type MonitorReader interface {
	Status() domain.MonitoringStatus
}

// PriceReader returns the latest known prices.
type PriceReader interface {
	Latest(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RiskReader exposes the risk gate counters.
type RiskReader interface {
	Stats() domain.RiskStats
}

// TradingHandler serves the dashboard read models.
type TradingHandler struct {
	summary  SummaryReader
	monitors MonitorReader
	prices   PriceReader
	risk     RiskReader
	symbols  []string
	logger   *slog.Logger
}

// NewTradingHandler creates a TradingHandler. monitors may be nil when the
// process runs without a supervisor. symbols is the default set for
// /api/prices.
func NewTradingHandler(
	summary SummaryReader,
	monitors MonitorReader,
	prices PriceReader,
	risk RiskReader,
	symbols []string,
	logger *slog.Logger,
) *TradingHandler {
	return &TradingHandler{
		summary:  summary,
		monitors: monitors,
		prices:   prices,
		risk:     risk,
		symbols:  symbols,
		logger:   logHandler(logger, "trading"),
	}
}

// TradingSummary responds with the aggregated trading summary.
// GET /api/trading-summary
func (h *TradingHandler) TradingSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.summary.Summary(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "trading summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// StopLossStatus responds with the monitoring status.
// GET /api/stop-loss-status
func (h *TradingHandler) StopLossStatus(w http.ResponseWriter, r *http.Request) {
	if h.monitors == nil {
		writeJSON(w, http.StatusOK, domain.MonitoringStatus{MonitoredPositions: []domain.MonitoredPosition{}})
		return
	}
	writeJSON(w, http.StatusOK, h.monitors.Status())
}

// RiskStats responds with the risk gate counters.
// GET /api/risk
func (h *TradingHandler) RiskStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.risk.Stats())
}

// Prices responds with the latest prices for ?symbols=A,B or every supported
// symbol.
// GET /api/prices
func (h *TradingHandler) Prices(w http.ResponseWriter, r *http.Request) {
	symbols := h.symbols
	if v := r.URL.Query().Get("symbols"); v != "" {
		symbols = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				symbols = append(symbols, s)
			}
		}
	}
	prices, err := h.prices.Latest(r.Context(), symbols)
	if err != nil {
		writeServiceError(w, r, h.logger, "prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

// logHandler attaches the handler name to log records.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
