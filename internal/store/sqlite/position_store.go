package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// PositionStore implements domain.PositionStore on SQLite.
type PositionStore struct {
	db *sql.DB
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, symbol, quantity, entry_price, current_price,
	unrealized_pnl, realized_pnl, stop_loss_price, stop_loss_percentage,
	status, is_monitoring, entry_order_id, exit_order_id, event_id,
	opened_at_ms, updated_at_ms, closed_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p                  domain.Position
		status             string
		realized           sql.NullFloat64
		closedAt           sql.NullInt64
		openedAt, updateAt int64
	)
	err := row.Scan(
		&p.ID, &p.Symbol, &p.Quantity, &p.EntryPrice, &p.CurrentPrice,
		&p.UnrealizedPnL, &realized, &p.StopLossPrice, &p.StopLossPercentage,
		&status, &p.IsMonitoring, &p.EntryOrderID, &p.ExitOrderID, &p.EventID,
		&openedAt, &updateAt, &closedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	p.OpenedAt = fromMs(openedAt)
	p.UpdatedAt = fromMs(updateAt)
	if realized.Valid {
		v := realized.Float64
		p.RealizedPnL = &v
	}
	if closedAt.Valid {
		t := fromMs(closedAt.Int64)
		p.ClosedAt = &t
	}
	return p, nil
}

func (s *PositionStore) query(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	var closedAt *int64
	if p.ClosedAt != nil {
		ms := toMs(*p.ClosedAt)
		closedAt = &ms
	}
	opened := p.OpenedAt
	if opened.IsZero() {
		opened = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO positions (
  id, symbol, quantity, entry_price, current_price,
  unrealized_pnl, realized_pnl, stop_loss_price, stop_loss_percentage,
  status, is_monitoring, entry_order_id, exit_order_id, event_id,
  opened_at_ms, updated_at_ms, closed_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Symbol, p.Quantity, p.EntryPrice, p.CurrentPrice,
		p.UnrealizedPnL, p.RealizedPnL, p.StopLossPrice, p.StopLossPercentage,
		string(p.Status), p.IsMonitoring, p.EntryOrderID, p.ExitOrderID, p.EventID,
		toMs(opened), nowMs(), closedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sqlite: create position %s: %w", p.ID, domain.ErrPositionExists)
		}
		return fmt.Errorf("sqlite: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+positionSelectCols+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("sqlite: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenBySymbol returns the open position for symbol.
func (s *PositionStore) GetOpenBySymbol(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE symbol = ? AND status = 'open'`, symbol)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("sqlite: get open position %s: %w", symbol, err)
	}
	return p, nil
}

// ListOpen returns every open position, newest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	out, err := s.query(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE status = 'open' ORDER BY opened_at_ms DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list open positions: %w", err)
	}
	return out, nil
}

// List returns positions newest first.
func (s *PositionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	q, args := listQuery(`SELECT `+positionSelectCols+` FROM positions`, "opened_at_ms",
		opts.Since, opts.Until, opts.Limit, opts.Offset)
	out, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list positions: %w", err)
	}
	return out, nil
}

func (s *PositionStore) execOpen(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	if n == 0 {
		return domain.ErrPositionNotOpen
	}
	return nil
}

// UpdateMark writes the latest price and unrealized PnL while the position
// is open.
func (s *PositionStore) UpdateMark(ctx context.Context, id string, price, unrealized float64) error {
	return s.execOpen(ctx, "update mark "+id,
		`UPDATE positions SET current_price = ?, unrealized_pnl = ?, updated_at_ms = ?
		 WHERE id = ? AND status = 'open'`,
		price, unrealized, nowMs(), id)
}

// UpdateStopLoss replaces the stop-loss price of an open position.
func (s *PositionStore) UpdateStopLoss(ctx context.Context, id string, price float64) error {
	return s.execOpen(ctx, "update stop loss "+id,
		`UPDATE positions SET stop_loss_price = ?, updated_at_ms = ?
		 WHERE id = ? AND status = 'open'`,
		price, nowMs(), id)
}

// SetMonitoring toggles is_monitoring.
func (s *PositionStore) SetMonitoring(ctx context.Context, id string, monitoring bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE positions SET is_monitoring = ?, updated_at_ms = ? WHERE id = ?`,
		monitoring, nowMs(), id)
	if err != nil {
		return fmt.Errorf("sqlite: set monitoring %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close moves an open position to a terminal status (compare-and-set on
// status = 'open').
func (s *PositionStore) Close(ctx context.Context, id string, c domain.PositionClose) error {
	closedAt := c.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	return s.execOpen(ctx, "close position "+id,
		`UPDATE positions SET
		   status = ?, current_price = ?, exit_price = ?, realized_pnl = ?,
		   unrealized_pnl = 0, exit_order_id = ?, is_monitoring = 0,
		   closed_at_ms = ?, updated_at_ms = ?
		 WHERE id = ? AND status = 'open'`,
		string(c.Status), c.ExitPrice, c.ExitPrice, c.RealizedPnL,
		c.ExitOrderID, toMs(closedAt), nowMs(), id)
}

// ListClosedBefore returns terminal positions closed before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Position, error) {
	out, err := s.query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status <> 'open' AND closed_at_ms < ?
		 ORDER BY closed_at_ms ASC LIMIT ?`, toMs(before), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list closed positions: %w", err)
	}
	return out, nil
}

// DeleteByIDs removes archived, non-open positions.
func (s *PositionStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks, args := inClause(ids)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM positions WHERE status <> 'open' AND id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete positions: %w", err)
	}
	return res.RowsAffected()
}
