// Package pipeline runs scheduled maintenance jobs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// RunResult summarises one archive run.
type RunResult struct {
	Cutoff    time.Time
	Positions int64
	Orders    int64
}

// Archiver moves closed positions and old orders to cold storage on a cron
// schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
	nowFn         func() time.Time
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		nowFn:         time.Now,
	}
}

// Run executes a single archive run against a cutoff of now minus the
// retention period. Positions go first so an order is never archived while
// the position that references it is still in the primary store.
func (a *Archiver) Run(ctx context.Context) (RunResult, error) {
	res := RunResult{Cutoff: a.nowFn().UTC().AddDate(0, 0, -a.retentionDays)}
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var err error
	res.Positions, err = a.blobArchiver.ArchivePositions(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("archiving positions before %v: %w", res.Cutoff, err)
	}
	res.Orders, err = a.blobArchiver.ArchiveOrders(ctx, res.Cutoff)
	if err != nil {
		return res, fmt.Errorf("archiving orders before %v: %w", res.Cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("positions_archived", res.Positions),
		slog.Int64("orders_archived", res.Orders),
	)
	return res, nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx is
// cancelled. Example: "0 3 1 * *" runs at 03:00 UTC on the 1st of each month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.Next(a.nowFn().UTC())
		if err != nil {
			return err
		}
		wait := time.Until(next)
		a.logger.DebugContext(ctx, "archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return nil
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
