package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// StreamConfig configures a StreamFeeder.
type StreamConfig struct {
	Stream       string
	StartID      string // "$" reads only entries appended after start
	Batch        int
	PollInterval time.Duration
}

// StreamFeeder tails a durable stream of scored events on the signal bus and
// publishes each decoded event into the queue.
type StreamFeeder struct {
	bus    domain.SignalBus
	queue  *Queue
	cfg    StreamConfig
	lastID string
	logger *slog.Logger
}

// NewStreamFeeder creates a StreamFeeder.
func NewStreamFeeder(bus domain.SignalBus, queue *Queue, cfg StreamConfig, logger *slog.Logger) *StreamFeeder {
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &StreamFeeder{
		bus:    bus,
		queue:  queue,
		cfg:    cfg,
		lastID: cfg.StartID,
		logger: logger.With(slog.String("component", "stream_feeder"), slog.String("stream", cfg.Stream)),
	}
}

// Run reads until ctx is cancelled.
func (f *StreamFeeder) Run(ctx context.Context) error {
	f.logger.Info("stream feeder started")
	defer f.logger.Info("stream feeder stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := f.Poll(ctx)
		if err != nil && ctx.Err() == nil {
			f.logger.Warn("stream read failed", slog.String("error", err.Error()))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.cfg.PollInterval):
		}
	}
}

// Poll performs one read and returns how many entries were consumed.
// Undecodable entries are logged and skipped.
func (f *StreamFeeder) Poll(ctx context.Context) (int, error) {
	msgs, err := f.bus.StreamRead(ctx, f.cfg.Stream, f.lastID, f.cfg.Batch)
	if err != nil {
		return 0, err
	}
	for i, m := range msgs {
		ev, err := DecodeEvent(m.Payload)
		if err != nil {
			f.logger.Warn("skipping malformed event",
				slog.String("entry_id", m.ID),
				slog.String("error", err.Error()),
			)
			f.lastID = m.ID
			continue
		}
		if err := f.queue.Publish(ctx, ev); err != nil {
			if !errors.Is(err, ErrQueueFull) {
				// Not consumed; re-read from here next time.
				return i, err
			}
			f.logger.Warn("event dropped, queue full", slog.String("event_id", ev.ID))
		}
		f.lastID = m.ID
	}
	return len(msgs), nil
}

// LastID returns the ID of the last consumed entry.
func (f *StreamFeeder) LastID() string { return f.lastID }
