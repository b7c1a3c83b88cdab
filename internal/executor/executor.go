// Package executor consumes scored news events, turns them into signals and
// hands each signal to the order service.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// SignalSource generates signals for one event.
type SignalSource interface {
	Generate(ctx context.Context, ev domain.NewsEvent) ([]domain.TradingSignal, error)
}

// SignalExecutor executes one signal.
type SignalExecutor interface {
	Execute(ctx context.Context, sig domain.TradingSignal) (domain.Position, error)
}

// Stats counts executor outcomes since start.
type Stats struct {
	Events     int64 `json:"events"`
	Duplicates int64 `json:"duplicates"`
	Signals    int64 `json:"signals"`
	Executed   int64 `json:"executed"`
	Denied     int64 `json:"denied"`
	Failed     int64 `json:"failed"`
}

// Executor reads events from a channel and processes them one at a time.
// A failing signal never affects the other signals of the same event.
type Executor struct {
	events  <-chan domain.NewsEvent
	signals SignalSource
	orders  SignalExecutor
	dedup   Deduper
	local   *Dedup
	logger  *slog.Logger

	cleanupInterval time.Duration
	drainTimeout    time.Duration

	nEvents, nDuplicates, nSignals, nExecuted, nDenied, nFailed atomic.Int64
}

// NewExecutor creates an Executor with an in-process dedup window.
func NewExecutor(
	events <-chan domain.NewsEvent,
	signals SignalSource,
	orders SignalExecutor,
	dedupTTL time.Duration,
	logger *slog.Logger,
) *Executor {
	if dedupTTL <= 0 {
		dedupTTL = time.Hour
	}
	local := NewDedup(dedupTTL)
	return &Executor{
		events:          events,
		signals:         signals,
		orders:          orders,
		dedup:           local,
		local:           local,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: time.Minute,
		drainTimeout:    5 * time.Second,
	}
}

// WithDeduper replaces the in-process dedup, e.g. with a LockDedup.
func (e *Executor) WithDeduper(d Deduper) *Executor {
	e.dedup = d
	return e
}

// Run processes events until ctx is cancelled or the channel is closed.
// Events already buffered at cancellation are drained with a short deadline.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return nil
		case ev, ok := <-e.events:
			if !ok {
				return nil
			}
			e.Handle(ctx, ev)
		case <-cleanup.C:
			e.local.Cleanup()
		}
	}
}

// Handle processes one event synchronously.
func (e *Executor) Handle(ctx context.Context, ev domain.NewsEvent) {
	e.nEvents.Add(1)
	log := e.logger.With(slog.String("event_id", ev.ID))

	if ev.ID != "" && e.dedup.Seen(ctx, ev.ID) {
		e.nDuplicates.Add(1)
		log.DebugContext(ctx, "duplicate event skipped")
		return
	}

	sigs, err := e.signals.Generate(ctx, ev)
	if err != nil {
		log.ErrorContext(ctx, "signal generation failed", slog.String("error", err.Error()))
	}
	e.nSignals.Add(int64(len(sigs)))

	for _, sig := range sigs {
		e.execute(ctx, sig, log)
	}
}

func (e *Executor) execute(ctx context.Context, sig domain.TradingSignal, log *slog.Logger) {
	log = log.With(
		slog.String("symbol", sig.Symbol),
		slog.String("action", string(sig.Action)),
	)
	defer func() {
		if r := recover(); r != nil {
			e.nFailed.Add(1)
			log.ErrorContext(ctx, "signal execution panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	pos, err := e.orders.Execute(ctx, sig)
	switch {
	case err == nil:
		e.nExecuted.Add(1)
		log.InfoContext(ctx, "signal executed",
			slog.String("position_id", pos.ID),
			slog.String("status", string(pos.Status)),
		)
	case errors.Is(err, domain.ErrRiskLimitExceeded):
		e.nDenied.Add(1)
		log.InfoContext(ctx, "signal denied by risk gate", slog.String("reason", err.Error()))
	case errors.Is(err, domain.ErrUnknownSymbol),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrRejectedOrder),
		errors.Is(err, domain.ErrPositionNotOpen):
		e.nFailed.Add(1)
		log.WarnContext(ctx, "signal not executed", slog.String("error", err.Error()))
	default:
		e.nFailed.Add(1)
		log.ErrorContext(ctx, "signal execution failed", slog.String("error", err.Error()))
	}
}

// Stats returns outcome counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Events:     e.nEvents.Load(),
		Duplicates: e.nDuplicates.Load(),
		Signals:    e.nSignals.Load(),
		Executed:   e.nExecuted.Load(),
		Denied:     e.nDenied.Load(),
		Failed:     e.nFailed.Load(),
	}
}

func (e *Executor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), e.drainTimeout)
	defer cancel()
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				e.logger.Warn("dropping event after drain deadline", slog.String("event_id", ev.ID))
				continue
			}
			e.Handle(ctx, ev)
		default:
			return
		}
	}
}
