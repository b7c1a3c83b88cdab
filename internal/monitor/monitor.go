package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// monitor watches one position. Its state only moves forward:
// starting -> polling -> triggering -> stopped.
type monitor struct {
	id       string
	symbol   string
	entry    float64
	quantity float64
	cancel   context.CancelFunc
	done     chan struct{}

	mu           sync.Mutex
	stopLoss     float64
	state        domain.MonitorState
	lastPriceLog time.Time
}

func newMonitor(pos domain.Position, cancel context.CancelFunc) *monitor {
	return &monitor{
		id:       pos.ID,
		symbol:   pos.Symbol,
		entry:    pos.EntryPrice,
		quantity: pos.Quantity,
		stopLoss: pos.StopLossPrice,
		state:    domain.MonitorStarting,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (m *monitor) alive() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

func (m *monitor) setState(st domain.MonitorState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == domain.MonitorStopped {
		return
	}
	m.state = st
}

func (m *monitor) threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLoss
}

func (m *monitor) setStopLoss(price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLoss = price
}

// shouldLogPrice reports whether a price log is due and marks it done.
func (m *monitor) shouldLogPrice(now time.Time, every time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.lastPriceLog) < every {
		return false
	}
	m.lastPriceLog = now
	return true
}

func (m *monitor) snapshot() domain.MonitoredPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.MonitoredPosition{
		PositionID:    m.id,
		Symbol:        m.symbol,
		EntryPrice:    m.entry,
		StopLossPrice: m.stopLoss,
		Quantity:      m.quantity,
		State:         m.state,
		Running:       m.state != domain.MonitorStopped,
	}
}

func (s *Supervisor) runMonitor(ctx context.Context, m *monitor) {
	defer close(m.done)
	defer s.forget(m)
	defer m.setState(domain.MonitorStopped)

	logger := s.logger.With(
		slog.String("position_id", m.id),
		slog.String("symbol", m.symbol),
	)
	logger.DebugContext(ctx, "monitor started", slog.Float64("stop_loss_price", m.threshold()))
	m.setState(domain.MonitorPolling)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if s.tick(ctx, m, logger) {
			logger.DebugContext(ctx, "monitor finished")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// forget drops m from the live set unless a newer monitor replaced it.
func (s *Supervisor) forget(m *monitor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitors[m.id] == m {
		delete(s.monitors, m.id)
	}
}

// tick runs one poll and reports whether the monitor should terminate.
func (s *Supervisor) tick(ctx context.Context, m *monitor, logger *slog.Logger) bool {
	if ctx.Err() != nil {
		return true
	}

	pos, err := s.positions.GetByID(ctx, m.id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return true
	case err != nil:
		logger.WarnContext(ctx, "read position failed", slog.String("error", err.Error()))
		return false
	case !pos.Monitored():
		return true
	}

	price, err := s.quoter.Quote(ctx, m.symbol)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		logger.WarnContext(ctx, "quote failed", slog.String("error", err.Error()))
		return false
	}
	now := time.Now()

	if err := s.positions.UpdateMark(ctx, m.id, price, pos.UnrealizedPnLAt(price)); err != nil {
		if errors.Is(err, domain.ErrPositionNotOpen) {
			return true
		}
		logger.WarnContext(ctx, "update mark failed", slog.String("error", err.Error()))
	}
	if s.prices != nil {
		s.prices.Observe(ctx, m.symbol, price, now)
	}

	stop := m.threshold()
	if m.shouldLogPrice(now, s.cfg.PriceLogInterval) {
		logger.DebugContext(ctx, "price check",
			slog.Float64("price", price),
			slog.Float64("stop_loss_price", stop),
			slog.Float64("unrealized_pnl", pos.UnrealizedPnLAt(price)),
		)
	}

	if price > stop {
		return false
	}

	m.setState(domain.MonitorTriggering)
	logger.WarnContext(ctx, "stop-loss triggered",
		slog.Float64("price", price),
		slog.Float64("stop_loss_price", stop),
	)
	s.trigger(ctx, m, logger)
	return true
}

// trigger closes the position as stopped. The close runs detached from
// cancellation so a shutdown mid-close still finishes its writes.
func (s *Supervisor) trigger(ctx context.Context, m *monitor, logger *slog.Logger) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CloseTimeout)
	defer cancel()

	pos, err := s.closer.ClosePosition(closeCtx, m.id, domain.CloseReasonStopLoss)
	switch {
	case err == nil:
		attrs := []any{slog.String("status", string(pos.Status))}
		if pos.RealizedPnL != nil {
			attrs = append(attrs, slog.Float64("realized_pnl", *pos.RealizedPnL))
		}
		logger.InfoContext(ctx, "stop-loss executed", attrs...)
	case errors.Is(err, domain.ErrPositionNotOpen):
		logger.InfoContext(ctx, "position already closed before stop-loss")
	default:
		s.halt(closeCtx, m, err)
	}
}
