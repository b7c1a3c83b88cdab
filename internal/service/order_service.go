package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// Notification event names.
const (
	EventPositionOpened    = "position_opened"
	EventPositionClosed    = "position_closed"
	EventStopLossTriggered = "stop_loss_triggered"
	EventStopLossFailed    = "stop_loss_failed"
)

// PositionsChannel is the pub/sub channel position lifecycle events go to.
const PositionsChannel = "positions"

const (
	lockRetryInterval    = 25 * time.Millisecond
	defaultSettleTimeout = 30 * time.Second
	residualQtyTolerance = 1e-12
)

// PositionTracker is told about every newly opened position.
type PositionTracker interface {
	Track(ctx context.Context, pos domain.Position)
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// OrderConfig holds sizing and locking parameters for the executor.
type OrderConfig struct {
	TradeAmountUSDT    float64
	TradeAmounts       map[string]float64
	StopLossPercentage float64
	LockTTL            time.Duration
	LockWait           time.Duration
	// SettleTimeout bounds the store writes that follow a venue fill. They
	// run detached from the caller's cancellation.
	SettleTimeout time.Duration
}

// TradeAmount returns the quote amount to spend on symbol.
func (c OrderConfig) TradeAmount(symbol string) float64 {
	if v, ok := c.TradeAmounts[strings.ToUpper(symbol)]; ok && v > 0 {
		return v
	}
	return c.TradeAmountUSDT
}

// OrderService turns signals into venue orders and owns the position
// lifecycle fields: status, realized pnl, exit order and the monitoring flag.
// Opens are serialized per symbol and closes per position.
type OrderService struct {
	positions domain.PositionStore
	orders    domain.OrderStore
	audit     domain.AuditStore
	venue     domain.Venue
	risk      *RiskService
	locks     domain.LockManager
	bus       domain.SignalBus
	notifier  Notifier
	tracker   PositionTracker
	cfg       OrderConfig
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewOrderService creates an OrderService with all required dependencies.
func NewOrderService(
	positions domain.PositionStore,
	orders domain.OrderStore,
	audit domain.AuditStore,
	venue domain.Venue,
	risk *RiskService,
	locks domain.LockManager,
	cfg OrderConfig,
	logger *slog.Logger,
) *OrderService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = defaultSettleTimeout
	}
	return &OrderService{
		positions: positions,
		orders:    orders,
		audit:     audit,
		venue:     venue,
		risk:      risk,
		locks:     locks,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "order_service")),
		nowFn:     time.Now,
	}
}

// WithBus publishes position events on the signal bus.
func (s *OrderService) WithBus(bus domain.SignalBus) *OrderService {
	s.bus = bus
	return s
}

// WithNotifier sends operator alerts for opens and closes.
func (s *OrderService) WithNotifier(n Notifier) *OrderService {
	s.notifier = n
	return s
}

// WithTracker registers new positions with a stop-loss supervisor.
func (s *OrderService) WithTracker(t PositionTracker) *OrderService {
	s.tracker = t
	return s
}

// Execute routes a signal to open or close.
func (s *OrderService) Execute(ctx context.Context, sig domain.TradingSignal) (domain.Position, error) {
	switch sig.Action {
	case domain.SignalActionBuy:
		return s.OpenFromSignal(ctx, sig)
	case domain.SignalActionSell:
		return s.CloseBySignal(ctx, sig)
	default:
		return domain.Position{}, fmt.Errorf("order_service: unknown action %q", sig.Action)
	}
}

// OpenFromSignal buys the configured amount of sig.Symbol and records a new
// monitored position.
func (s *OrderService) OpenFromSignal(ctx context.Context, sig domain.TradingSignal) (domain.Position, error) {
	symbol := strings.ToUpper(sig.Symbol)
	amount := s.cfg.TradeAmount(symbol)

	unlock, err := s.acquire(ctx, domain.SymbolLockKey(symbol))
	if err != nil {
		return domain.Position{}, fmt.Errorf("order_service: open %s: %w", symbol, err)
	}
	defer unlock()

	if err := s.risk.Check(ctx, amount); err != nil {
		return domain.Position{}, fmt.Errorf("order_service: open %s: %w", symbol, err)
	}
	if err := s.risk.CanOpen(ctx, symbol); err != nil {
		return domain.Position{}, fmt.Errorf("order_service: open %s: %w", symbol, err)
	}

	quote, err := s.venue.Quote(ctx, symbol)
	if err != nil {
		return domain.Position{}, fmt.Errorf("order_service: quote %s: %w", symbol, err)
	}
	qty := QuantityFor(symbol, amount, quote)
	if qty <= 0 {
		return domain.Position{}, fmt.Errorf("order_service: open %s: quantity rounds to zero at %.8f: %w",
			symbol, quote, domain.ErrRejectedOrder)
	}

	report, err := s.venue.MarketOrder(ctx, symbol, domain.OrderSideBuy, qty)
	if err != nil {
		return domain.Position{}, fmt.Errorf("order_service: buy %s: %w", symbol, err)
	}
	filled := report.ExecutedQuantity
	if filled <= 0 {
		return domain.Position{}, fmt.Errorf("order_service: buy %s: nothing executed (status %s): %w",
			symbol, report.Status, domain.ErrRejectedOrder)
	}

	// Coins are held from here on; the records must land even if ctx ends.
	ctx, cancel := s.settleContext(ctx)
	defer cancel()
	s.risk.Record(0)

	entry := report.ExecutedPrice
	if entry <= 0 {
		entry = quote
	}

	now := s.nowFn().UTC()
	order := domain.Order{
		ID:               uuid.NewString(),
		VenueOrderID:     report.VenueOrderID,
		Symbol:           symbol,
		Side:             domain.OrderSideBuy,
		Quantity:         qty,
		Price:            quote,
		Status:           report.Status,
		ExecutedQuantity: filled,
		ExecutedPrice:    entry,
		EventID:          sig.EventID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		// The buy filled; the position must still be recorded so it is monitored.
		s.logger.ErrorContext(ctx, "persist buy order failed",
			slog.String("symbol", symbol),
			slog.String("venue_order_id", report.VenueOrderID),
			slog.String("error", err.Error()),
		)
		order.ID = ""
	}

	pos := domain.Position{
		ID:                 uuid.NewString(),
		Symbol:             symbol,
		Quantity:           filled,
		EntryPrice:         entry,
		CurrentPrice:       entry,
		StopLossPrice:      domain.StopLossFor(entry, s.cfg.StopLossPercentage),
		StopLossPercentage: s.cfg.StopLossPercentage,
		Status:             domain.PositionStatusOpen,
		IsMonitoring:       true,
		EntryOrderID:       order.ID,
		EventID:            sig.EventID,
		OpenedAt:           now,
		UpdatedAt:          now,
	}
	if err := s.positions.Create(ctx, pos); err != nil {
		return domain.Position{}, fmt.Errorf("order_service: create position: %w", err)
	}
	if order.ID != "" {
		if err := s.orders.LinkPosition(ctx, order.ID, pos.ID); err != nil {
			s.logger.WarnContext(ctx, "link order to position failed",
				slog.String("order_id", order.ID),
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.tracker != nil {
		s.tracker.Track(ctx, pos)
	}

	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", pos.ID),
		slog.String("symbol", symbol),
		slog.Float64("quantity", pos.Quantity),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("stop_loss_price", pos.StopLossPrice),
		slog.String("reason", sig.Reasoning),
	)
	s.emit(ctx, EventPositionOpened, pos, map[string]any{
		"order_id":  order.ID,
		"reasoning": sig.Reasoning,
	})
	s.alert(ctx, EventPositionOpened,
		fmt.Sprintf("Opened %s", symbol),
		fmt.Sprintf("qty %s @ %.4f, stop %.4f\n%s", formatQty(symbol, pos.Quantity), pos.EntryPrice, pos.StopLossPrice, sig.Reasoning),
	)

	return pos, nil
}

// CloseBySignal closes the open position for sig.Symbol.
func (s *OrderService) CloseBySignal(ctx context.Context, sig domain.TradingSignal) (domain.Position, error) {
	symbol := strings.ToUpper(sig.Symbol)
	pos, err := s.positions.GetOpenBySymbol(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Position{}, fmt.Errorf("order_service: close %s: %w", symbol, domain.ErrPositionNotOpen)
		}
		return domain.Position{}, fmt.Errorf("order_service: lookup open %s: %w", symbol, err)
	}
	return s.ClosePosition(ctx, pos.ID, domain.CloseReasonSignal)
}

// ClosePosition sells the entire quantity of an open position and moves it to
// the terminal status for reason. Returns domain.ErrPositionNotOpen when the
// position already left the open state.
func (s *OrderService) ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (domain.Position, error) {
	unlock, err := s.acquire(ctx, domain.PositionLockKey(id))
	if err != nil {
		return domain.Position{}, fmt.Errorf("order_service: close %s: %w", id, err)
	}
	defer unlock()

	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("order_service: get position %s: %w", id, err)
	}
	if pos.Status != domain.PositionStatusOpen {
		return pos, fmt.Errorf("order_service: close %s (%s): %w", id, pos.Status, domain.ErrPositionNotOpen)
	}

	report, err := s.venue.MarketOrder(ctx, pos.Symbol, domain.OrderSideSell, pos.Quantity)
	if err != nil {
		return pos, fmt.Errorf("order_service: sell %s: %w", pos.Symbol, err)
	}
	sold := min(report.ExecutedQuantity, pos.Quantity)
	if sold <= 0 {
		return pos, fmt.Errorf("order_service: sell %s: nothing executed (status %s): %w",
			pos.Symbol, report.Status, domain.ErrRejectedOrder)
	}

	// The sale happened; finish the bookkeeping even if ctx ends.
	ctx, cancel := s.settleContext(ctx)
	defer cancel()

	exit := report.ExecutedPrice
	if exit <= 0 {
		q, qerr := s.venue.Quote(ctx, pos.Symbol)
		if qerr != nil || q <= 0 {
			s.risk.Record(0)
			s.logger.ErrorContext(ctx, "sell executed without a price; position left open",
				slog.String("position_id", pos.ID),
				slog.String("symbol", pos.Symbol),
				slog.Float64("executed_quantity", report.ExecutedQuantity),
				slog.String("venue_order_id", report.VenueOrderID),
			)
			return pos, fmt.Errorf("order_service: sell %s (venue order %s): %w",
				pos.Symbol, report.VenueOrderID, domain.ErrUnpricedFill)
		}
		exit = q
	}
	pnl := (exit - pos.EntryPrice) * sold
	s.risk.Record(pnl)

	if residual := pos.Quantity - sold; residual > residualQtyTolerance {
		s.logger.WarnContext(ctx, "partial close; residual holdings are no longer tracked",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.Float64("sold", sold),
			slog.Float64("residual", residual),
		)
	}

	now := s.nowFn().UTC()
	order := domain.Order{
		ID:               uuid.NewString(),
		VenueOrderID:     report.VenueOrderID,
		Symbol:           pos.Symbol,
		Side:             domain.OrderSideSell,
		Quantity:         pos.Quantity,
		Price:            exit,
		Status:           report.Status,
		ExecutedQuantity: report.ExecutedQuantity,
		ExecutedPrice:    exit,
		PositionID:       pos.ID,
		EventID:          pos.EventID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		// The venue already filled; the close transition must still happen.
		s.logger.ErrorContext(ctx, "persist sell order failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		order.ID = ""
	}

	status := reason.TerminalStatus()
	if err := s.positions.Close(ctx, pos.ID, domain.PositionClose{
		Status:      status,
		ExitPrice:   exit,
		RealizedPnL: pnl,
		ExitOrderID: order.ID,
		ClosedAt:    now,
	}); err != nil {
		return pos, fmt.Errorf("order_service: close position %s: %w", pos.ID, err)
	}

	pos.Status = status
	pos.CurrentPrice = exit
	pos.UnrealizedPnL = 0
	pos.RealizedPnL = &pnl
	pos.ExitOrderID = order.ID
	pos.IsMonitoring = false
	pos.ClosedAt = &now
	pos.UpdatedAt = now

	s.logger.InfoContext(ctx, "position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", string(reason)),
		slog.String("status", string(status)),
		slog.Float64("exit_price", exit),
		slog.Float64("realized_pnl", pnl),
	)

	event := EventPositionClosed
	if reason == domain.CloseReasonStopLoss {
		event = EventStopLossTriggered
	}
	s.emit(ctx, event, pos, map[string]any{
		"order_id": order.ID,
		"reason":   string(reason),
	})
	s.alert(ctx, event,
		fmt.Sprintf("Closed %s (%s)", pos.Symbol, reason),
		fmt.Sprintf("qty %s entry %.4f exit %.4f pnl %.4f", formatQty(pos.Symbol, pos.Quantity), pos.EntryPrice, exit, pnl),
	)

	return pos, nil
}

// settleContext detaches ctx from cancellation for the writes that follow a
// fill, bounded by SettleTimeout.
func (s *OrderService) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SettleTimeout)
}

// acquire takes a lock, retrying while it is held until LockWait elapses.
func (s *OrderService) acquire(ctx context.Context, key string) (func(), error) {
	deadline := s.nowFn().Add(s.cfg.LockWait)
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) || !s.nowFn().Before(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s *OrderService) emit(ctx context.Context, event string, pos domain.Position, extra map[string]any) {
	detail := map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"status":      string(pos.Status),
		"quantity":    pos.Quantity,
		"entry_price": pos.EntryPrice,
	}
	if pos.RealizedPnL != nil {
		detail["realized_pnl"] = *pos.RealizedPnL
	}
	for k, v := range extra {
		detail[k] = v
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus == nil {
		return
	}
	detail["event"] = event
	payload, err := json.Marshal(detail)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, PositionsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *OrderService) alert(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
