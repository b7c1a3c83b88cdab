package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// OrderStore implements domain.OrderStore on SQLite.
type OrderStore struct {
	db *sql.DB
}

var _ domain.OrderStore = (*OrderStore)(nil)

const orderSelectCols = `id, venue_order_id, symbol, side, quantity, price, status,
	executed_quantity, executed_price, position_id, event_id, created_at_ms, updated_at_ms`

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                  domain.Order
		side, status       string
		createdAt, updated int64
	)
	if err := row.Scan(
		&o.ID, &o.VenueOrderID, &o.Symbol, &side, &o.Quantity, &o.Price, &status,
		&o.ExecutedQuantity, &o.ExecutedPrice, &o.PositionID, &o.EventID, &createdAt, &updated,
	); err != nil {
		return domain.Order{}, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = fromMs(createdAt)
	o.UpdatedAt = fromMs(updated)
	return o, nil
}

func (s *OrderStore) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create inserts a new order.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (
  id, venue_order_id, symbol, side, quantity, price, status,
  executed_quantity, executed_price, position_id, event_id, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.VenueOrderID, o.Symbol, string(o.Side), o.Quantity, o.Price, string(o.Status),
		o.ExecutedQuantity, o.ExecutedPrice, o.PositionID, o.EventID, toMs(created), nowMs(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a single order.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("sqlite: get order %s: %w", id, err)
	}
	return o, nil
}

// LinkPosition sets the position reference of an order.
func (s *OrderStore) LinkPosition(ctx context.Context, orderID, positionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET position_id = ?, updated_at_ms = ? WHERE id = ?`,
		positionID, nowMs(), orderID)
	if err != nil {
		return fmt.Errorf("sqlite: link order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns orders newest first.
func (s *OrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	q, args := listQuery(`SELECT `+orderSelectCols+` FROM orders`, "created_at_ms",
		opts.Since, opts.Until, opts.Limit, opts.Offset)
	out, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders: %w", err)
	}
	return out, nil
}

// ListBefore returns orders created before the cutoff, oldest first.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	out, err := s.query(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE created_at_ms < ? ORDER BY created_at_ms ASC LIMIT ?`,
		toMs(before), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list orders before: %w", err)
	}
	return out, nil
}

// DeleteByIDs removes archived orders.
func (s *OrderStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	marks, args := inClause(ids)
	res, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete orders: %w", err)
	}
	return res.RowsAffected()
}
