// Package monitor runs one stop-loss watcher per open position and keeps the
// set of watchers reconciled with the position store.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/service"
)

// Closer executes a position close.
type Closer interface {
	ClosePosition(ctx context.Context, id string, reason domain.CloseReason) (domain.Position, error)
}

// Quoter returns the current price of a symbol.
type Quoter interface {
	Quote(ctx context.Context, symbol string) (float64, error)
}

// PriceObserver receives every quote a monitor takes.
type PriceObserver interface {
	Observe(ctx context.Context, symbol string, price float64, ts time.Time)
}

// Config holds supervisor timings.
type Config struct {
	PollInterval      time.Duration
	ReconcileInterval time.Duration
	JoinTimeout       time.Duration
	ShutdownTimeout   time.Duration
	CloseTimeout      time.Duration
	PriceLogInterval  time.Duration
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 30 * time.Second
	}
	if c.PriceLogInterval <= 0 {
		c.PriceLogInterval = time.Minute
	}
}

// Supervisor owns the per-position monitors. It writes only current_price
// and unrealized_pnl; every status change goes through the Closer.
type Supervisor struct {
	positions domain.PositionStore
	quoter    Quoter
	closer    Closer
	prices    PriceObserver
	notifier  service.Notifier
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	monitors map[string]*monitor
	halted   map[string]bool
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc
	recDone  chan struct{}
}

// NewSupervisor creates a Supervisor. Call Start or Run to begin monitoring.
func NewSupervisor(
	positions domain.PositionStore,
	quoter Quoter,
	closer Closer,
	cfg Config,
	logger *slog.Logger,
) *Supervisor {
	cfg.setDefaults()
	return &Supervisor{
		positions: positions,
		quoter:    quoter,
		closer:    closer,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "stop_loss_supervisor")),
		monitors:  make(map[string]*monitor),
		halted:    make(map[string]bool),
	}
}

// WithPrices forwards each monitor quote to obs.
func (s *Supervisor) WithPrices(obs PriceObserver) *Supervisor {
	s.prices = obs
	return s
}

// WithNotifier raises stop_loss_failed alerts through n.
func (s *Supervisor) WithNotifier(n service.Notifier) *Supervisor {
	s.notifier = n
	return s
}

// Run starts the supervisor and blocks until ctx is cancelled, then shuts
// down with bounded joins.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// Start seeds monitors for every open monitored position and launches the
// reconciliation loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.recDone = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	if err := s.Reconcile(ctx); err != nil {
		s.logger.WarnContext(ctx, "initial reconcile failed", slog.String("error", err.Error()))
	}

	go s.reconcileLoop(s.ctx, s.recDone)

	s.logger.InfoContext(ctx, "stop-loss supervisor started",
		slog.Int("monitors", s.count()),
		slog.Duration("poll", s.cfg.PollInterval),
		slog.Duration("reconcile", s.cfg.ReconcileInterval),
	)
	return nil
}

// Stop cancels reconciliation and every monitor, then waits up to
// ShutdownTimeout for reconciliation and JoinTimeout per monitor.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	recDone := s.recDone
	monitors := make([]*monitor, 0, len(s.monitors))
	for _, m := range s.monitors {
		monitors = append(monitors, m)
	}
	s.monitors = make(map[string]*monitor)
	s.mu.Unlock()

	if !waitFor(recDone, s.cfg.ShutdownTimeout) {
		s.logger.Warn("reconciliation did not stop in time")
	}
	for _, m := range monitors {
		m.cancel()
		if !waitFor(m.done, s.cfg.JoinTimeout) {
			s.logger.Warn("monitor did not stop in time",
				slog.String("position_id", m.id),
				slog.String("symbol", m.symbol),
			)
		}
	}
	s.logger.Info("stop-loss supervisor stopped", slog.Int("monitors", len(monitors)))
}

// Track starts a monitor for a newly opened position. Positions that are not
// open and monitored are ignored, as is every call before Start.
func (s *Supervisor) Track(_ context.Context, pos domain.Position) {
	if !pos.Monitored() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.halted[pos.ID] {
		return
	}
	if m, ok := s.monitors[pos.ID]; ok && m.alive() {
		return
	}
	s.startLocked(pos)
}

// Reconcile starts monitors for open monitored positions lacking one and
// stops those whose position is no longer open and monitored.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("monitor: list open positions: %w", err)
	}

	wanted := make(map[string]domain.Position, len(open))
	for _, p := range open {
		if p.Monitored() {
			wanted[p.ID] = p
		}
	}

	var stale []*monitor
	var started int

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	for id := range s.halted {
		if _, ok := wanted[id]; !ok {
			delete(s.halted, id)
		}
	}
	for id, m := range s.monitors {
		_, ok := wanted[id]
		if !ok || s.halted[id] || !m.alive() {
			m.cancel()
			stale = append(stale, m)
			delete(s.monitors, id)
		}
	}
	for id, p := range wanted {
		if s.halted[id] {
			continue
		}
		if _, ok := s.monitors[id]; ok {
			continue
		}
		s.startLocked(p)
		started++
	}
	s.mu.Unlock()

	for _, m := range stale {
		if !waitFor(m.done, s.cfg.JoinTimeout) {
			s.logger.WarnContext(ctx, "stale monitor did not stop in time", slog.String("position_id", m.id))
		}
	}
	if started > 0 || len(stale) > 0 {
		s.logger.InfoContext(ctx, "monitors reconciled",
			slog.Int("started", started),
			slog.Int("removed", len(stale)),
			slog.Int("active", s.count()),
		)
	}
	return nil
}

// UpdateStopLoss changes the threshold of a live monitor and persists it.
// It returns false without error when no live monitor exists for id.
func (s *Supervisor) UpdateStopLoss(ctx context.Context, id string, price float64) (bool, error) {
	if price <= 0 {
		return false, fmt.Errorf("monitor: stop-loss price must be positive, got %v", price)
	}
	s.mu.Lock()
	m, ok := s.monitors[id]
	s.mu.Unlock()
	if !ok || !m.alive() {
		return false, nil
	}

	if err := s.positions.UpdateStopLoss(ctx, id, price); err != nil {
		return false, fmt.Errorf("monitor: update stop-loss %s: %w", id, err)
	}
	m.setStopLoss(price)

	s.logger.InfoContext(ctx, "stop-loss updated",
		slog.String("position_id", id),
		slog.String("symbol", m.symbol),
		slog.Float64("stop_loss_price", price),
	)
	return true, nil
}

// Status returns a snapshot of every monitor, ordered by symbol.
func (s *Supervisor) Status() domain.MonitoringStatus {
	s.mu.Lock()
	running := s.running
	list := make([]domain.MonitoredPosition, 0, len(s.monitors))
	for _, m := range s.monitors {
		list = append(list, m.snapshot())
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Symbol != list[j].Symbol {
			return list[i].Symbol < list[j].Symbol
		}
		return list[i].PositionID < list[j].PositionID
	})
	return domain.MonitoringStatus{
		TotalMonitors:      len(list),
		Running:            running,
		MonitoredPositions: list,
	}
}

func (s *Supervisor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.monitors)
}

// startLocked launches a monitor. Caller holds s.mu and s.running is true.
func (s *Supervisor) startLocked(pos domain.Position) {
	ctx, cancel := context.WithCancel(s.ctx)
	m := newMonitor(pos, cancel)
	s.monitors[pos.ID] = m
	go s.runMonitor(ctx, m)
}

func (s *Supervisor) reconcileLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

// halt records a failed stop-loss so neither reconciliation nor a restart
// retries it automatically.
func (s *Supervisor) halt(ctx context.Context, m *monitor, cause error) {
	sle := &domain.StopLossExecutionError{PositionID: m.id, Symbol: m.symbol, Err: cause}

	s.mu.Lock()
	s.halted[m.id] = true
	s.mu.Unlock()

	s.logger.ErrorContext(ctx, "stop-loss execution failed", slog.String("error", sle.Error()))

	if err := s.positions.SetMonitoring(ctx, m.id, false); err != nil && !errors.Is(err, domain.ErrPositionNotOpen) {
		s.logger.ErrorContext(ctx, "disable monitoring failed",
			slog.String("position_id", m.id),
			slog.String("error", err.Error()),
		)
	}
	if s.notifier != nil {
		if err := s.notifier.Notify(ctx, service.EventStopLossFailed,
			fmt.Sprintf("Stop-loss FAILED %s", m.symbol), sle.Error()); err != nil {
			s.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

func waitFor(done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
