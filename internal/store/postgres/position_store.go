package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, quantity, entry_price, current_price,
	unrealized_pnl, realized_pnl, stop_loss_price, stop_loss_percentage,
	status, is_monitoring, entry_order_id, exit_order_id, event_id,
	opened_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.Symbol, &p.Quantity, &p.EntryPrice, &p.CurrentPrice,
		&p.UnrealizedPnL, &p.RealizedPnL, &p.StopLossPrice, &p.StopLossPercentage,
		&status, &p.IsMonitoring, &p.EntryOrderID, &p.ExitOrderID, &p.EventID,
		&p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. A second open position for the same symbol
// is rejected by the partial unique index and reported as ErrPositionExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, quantity, entry_price, current_price,
			unrealized_pnl, realized_pnl, stop_loss_price, stop_loss_percentage,
			status, is_monitoring, entry_order_id, exit_order_id, event_id,
			opened_at, updated_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14,
			$15, NOW(), $16
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, p.Quantity, p.EntryPrice, p.CurrentPrice,
		p.UnrealizedPnL, p.RealizedPnL, p.StopLossPrice, p.StopLossPercentage,
		string(p.Status), p.IsMonitoring, p.EntryOrderID, p.ExitOrderID, p.EventID,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrPositionExists)
		}
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// GetOpenBySymbol returns the open position for symbol, if any.
func (s *PositionStore) GetOpenBySymbol(ctx context.Context, symbol string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE symbol = $1 AND status = 'open'`, symbol)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get open position %s: %w", symbol, err)
	}
	return p, nil
}

// ListOpen returns every open position, newest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'open'
		 ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// List returns positions with pagination and optional time filtering.
func (s *PositionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := listQuery(`SELECT `+positionSelectCols+` FROM positions`, "opened_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan positions: %w", err)
	}
	return positions, nil
}

// UpdateMark writes the latest price and unrealized PnL. Rows that are no
// longer open are left untouched.
func (s *PositionStore) UpdateMark(ctx context.Context, id string, price, unrealized float64) error {
	const query = `
		UPDATE positions SET
			current_price  = $2,
			unrealized_pnl = $3,
			updated_at     = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, price, unrealized)
	if err != nil {
		return fmt.Errorf("postgres: update mark %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPositionNotOpen
	}
	return nil
}

// UpdateStopLoss replaces the stop-loss price of an open position.
func (s *PositionStore) UpdateStopLoss(ctx context.Context, id string, price float64) error {
	const query = `
		UPDATE positions SET
			stop_loss_price = $2,
			updated_at      = NOW()
		WHERE id = $1 AND status = 'open'`

	tag, err := s.pool.Exec(ctx, query, id, price)
	if err != nil {
		return fmt.Errorf("postgres: update stop loss %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPositionNotOpen
	}
	return nil
}

// SetMonitoring toggles is_monitoring.
func (s *PositionStore) SetMonitoring(ctx context.Context, id string, monitoring bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET is_monitoring = $2, updated_at = NOW() WHERE id = $1`,
		id, monitoring)
	if err != nil {
		return fmt.Errorf("postgres: set monitoring %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Close moves an open position to a terminal status. The update only applies
// while the row is still open; otherwise ErrPositionNotOpen is returned.
func (s *PositionStore) Close(ctx context.Context, id string, c domain.PositionClose) error {
	const query = `
		UPDATE positions SET
			status         = $2,
			current_price  = $3,
			exit_price     = $3,
			realized_pnl   = $4,
			unrealized_pnl = 0,
			exit_order_id  = $5,
			is_monitoring  = FALSE,
			closed_at      = $6,
			updated_at     = NOW()
		WHERE id = $1 AND status = 'open'`

	closedAt := c.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, query, id, string(c.Status), c.ExitPrice, c.RealizedPnL, c.ExitOrderID, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPositionNotOpen
	}
	return nil
}

// ListClosedBefore returns terminal positions closed before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status <> 'open' AND closed_at < $1
		 ORDER BY closed_at ASC
		 LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// DeleteByIDs removes archived positions. Open positions are never deleted.
func (s *PositionStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE id = ANY($1) AND status <> 'open'`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// listQuery appends time filters, ordering and pagination on tsCol.
func listQuery(base, tsCol string, opts domain.ListOpts) (string, []any) {
	query := base + ` WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", tsCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", tsCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + tsCol + " DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
