package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

const dateLayout = "2006-01-02"

// Risk check names, in evaluation order.
const (
	CheckDailyTrades   = "daily_trades"
	CheckDailyLoss     = "daily_loss"
	CheckOpenPositions = "open_positions"
	CheckBalance       = "balance"
	CheckSymbolOpen    = "symbol_open"
)

// RiskConfig holds the tunable parameters for pre-trade risk checks.
type RiskConfig struct {
	MaxDailyTrades   int
	DailyLossLimit   float64
	MaxOpenPositions int
	QuoteAsset       string
}

// BalanceSource reports free balance per asset.
type BalanceSource interface {
	Balance(ctx context.Context, asset string) (float64, error)
}

// RiskService enforces daily and portfolio limits before entries and keeps
// the daily counters. Counters reset lazily on the first access of a new UTC
// day.
type RiskService struct {
	positions domain.PositionStore
	balances  BalanceSource
	cfg       RiskConfig
	logger    *slog.Logger
	nowFn     func() time.Time

	mu          sync.Mutex
	dailyTrades int
	dailyLoss   float64
	lastReset   string
}

// NewRiskService creates a RiskService with all required dependencies.
func NewRiskService(
	positions domain.PositionStore,
	balances BalanceSource,
	cfg RiskConfig,
	logger *slog.Logger,
) *RiskService {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	s := &RiskService{
		positions: positions,
		balances:  balances,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "risk")),
		nowFn:     time.Now,
	}
	s.lastReset = s.today()
	return s
}

// WithClock replaces the wall clock. Used by tests to cross UTC midnight.
func (s *RiskService) WithClock(now func() time.Time) *RiskService {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
	s.lastReset = s.today()
	return s
}

func (s *RiskService) today() string {
	return s.nowFn().UTC().Format(dateLayout)
}

// rollover must be called with mu held.
func (s *RiskService) rollover() {
	today := s.today()
	if today == s.lastReset {
		return
	}
	s.logger.Info("daily risk counters reset",
		slog.String("previous", s.lastReset),
		slog.Int("trades", s.dailyTrades),
		slog.Float64("loss", s.dailyLoss),
	)
	s.dailyTrades = 0
	s.dailyLoss = 0
	s.lastReset = today
}

// Check evaluates every entry limit for a trade of the given quote amount.
// All checks run; the first failure names the denial. A denial is returned
// as *domain.RiskLimitError.
func (s *RiskService) Check(ctx context.Context, tradeAmount float64) error {
	s.mu.Lock()
	s.rollover()
	trades, loss := s.dailyTrades, s.dailyLoss
	s.mu.Unlock()

	var (
		failed  []string
		details []string
	)
	fail := func(check, detail string) {
		failed = append(failed, check)
		details = append(details, detail)
	}

	if trades >= s.cfg.MaxDailyTrades {
		fail(CheckDailyTrades, fmt.Sprintf("%d/%d trades today", trades, s.cfg.MaxDailyTrades))
	}
	if loss >= s.cfg.DailyLossLimit {
		fail(CheckDailyLoss, fmt.Sprintf("loss %.2f >= limit %.2f", loss, s.cfg.DailyLossLimit))
	}

	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("risk: list open positions: %w", err)
	}
	if len(open) >= s.cfg.MaxOpenPositions {
		fail(CheckOpenPositions, fmt.Sprintf("%d/%d open", len(open), s.cfg.MaxOpenPositions))
	}

	balance, err := s.balances.Balance(ctx, s.cfg.QuoteAsset)
	switch {
	case err != nil:
		fail(CheckBalance, fmt.Sprintf("balance lookup failed: %v", err))
	case balance < tradeAmount:
		fail(CheckBalance, fmt.Sprintf("%s %.2f < %.2f", s.cfg.QuoteAsset, balance, tradeAmount))
	}

	if len(failed) == 0 {
		return nil
	}

	s.logger.WarnContext(ctx, "risk check denied",
		slog.String("check", failed[0]),
		slog.Any("failed", failed),
		slog.Float64("amount", tradeAmount),
	)
	return &domain.RiskLimitError{Check: failed[0], Detail: details[0], Failed: failed}
}

// CanOpen denies a second open position for symbol.
func (s *RiskService) CanOpen(ctx context.Context, symbol string) error {
	pos, err := s.positions.GetOpenBySymbol(ctx, symbol)
	switch {
	case err == nil:
		return &domain.RiskLimitError{
			Check:  CheckSymbolOpen,
			Detail: fmt.Sprintf("position %s already open for %s", pos.ID, symbol),
			Failed: []string{CheckSymbolOpen},
		}
	case isNotFound(err):
		return nil
	default:
		return fmt.Errorf("risk: lookup open %s: %w", symbol, err)
	}
}

// Record counts one executed order. Negative pnl adds to the daily loss.
func (s *RiskService) Record(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	s.dailyTrades++
	if pnl < 0 {
		s.dailyLoss += -pnl
	}
}

// Stats returns a snapshot of the counters and limits.
func (s *RiskService) Stats() domain.RiskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollover()
	return domain.RiskStats{
		DailyTrades:      s.dailyTrades,
		DailyLoss:        s.dailyLoss,
		MaxDailyTrades:   s.cfg.MaxDailyTrades,
		DailyLossLimit:   s.cfg.DailyLossLimit,
		MaxOpenPositions: s.cfg.MaxOpenPositions,
		LastResetDate:    s.lastReset,
	}
}
