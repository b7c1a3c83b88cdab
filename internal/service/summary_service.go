package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

const (
	defaultSummaryWindow = 50
	recentOrdersShown    = 10
)

// SummaryService builds the trading summary read model.
type SummaryService struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	venue     domain.Venue
	risk      *RiskService
	window    int
	logger    *slog.Logger
}

// NewSummaryService creates a SummaryService. window bounds how many recent
// orders and positions are aggregated; 0 means 50.
func NewSummaryService(
	positions domain.PositionStore,
	orders domain.OrderStore,
	venue domain.Venue,
	risk *RiskService,
	window int,
	logger *slog.Logger,
) *SummaryService {
	if window <= 0 {
		window = defaultSummaryWindow
	}
	return &SummaryService{
		positions: positions,
		orders:    orders,
		venue:     venue,
		risk:      risk,
		window:    window,
		logger:    logger.With(slog.String("component", "summary")),
	}
}

// Summary aggregates the most recent orders and positions. total_trades and
// total_realized_pnl cover the window only. A balance lookup failure yields an
// empty balance map rather than an error.
func (s *SummaryService) Summary(ctx context.Context) (domain.TradingSummary, error) {
	orders, err := s.orders.List(ctx, domain.ListOpts{Limit: s.window})
	if err != nil {
		return domain.TradingSummary{}, fmt.Errorf("summary: list orders: %w", err)
	}
	recent, err := s.positions.List(ctx, domain.ListOpts{Limit: s.window})
	if err != nil {
		return domain.TradingSummary{}, fmt.Errorf("summary: list positions: %w", err)
	}
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return domain.TradingSummary{}, fmt.Errorf("summary: list open positions: %w", err)
	}

	var pnl float64
	for _, p := range recent {
		if p.RealizedPnL != nil {
			pnl += *p.RealizedPnL
		}
	}

	balances, err := s.venue.Balances(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "balances unavailable", slog.String("error", err.Error()))
		balances = map[string]float64{}
	}

	shown := orders
	if len(shown) > recentOrdersShown {
		shown = shown[:recentOrdersShown]
	}
	if shown == nil {
		shown = []domain.Order{}
	}
	if open == nil {
		open = []domain.Position{}
	}

	return domain.TradingSummary{
		TotalTrades:        len(orders),
		OpenPositionsCount: len(open),
		TotalRealizedPnL:   pnl,
		Balances:           balances,
		RecentOrders:       shown,
		OpenPositions:      open,
		RiskStats:          s.risk.Stats(),
	}, nil
}
