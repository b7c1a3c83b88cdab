// Package sqlite implements the position, order and audit stores on an
// embedded SQLite database (modernc.org/sqlite, no cgo). It is the default
// store for paper trading and single-host deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a single-connection SQLite handle.
type DB struct {
	db *sql.DB
}

// Open creates the parent directory if needed, opens the database and
// applies the schema.
func Open(ctx context.Context, path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// Health pings the database.
func (d *DB) Health(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: health: %w", err)
	}
	return nil
}

// Positions returns a PositionStore on this database.
func (d *DB) Positions() *PositionStore { return &PositionStore{db: d.db} }

// Orders returns an OrderStore on this database.
func (d *DB) Orders() *OrderStore { return &OrderStore{db: d.db} }

// Audit returns an AuditStore on this database.
func (d *DB) Audit() *AuditStore { return &AuditStore{db: d.db} }

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  quantity REAL NOT NULL,
  entry_price REAL NOT NULL,
  current_price REAL NOT NULL DEFAULT 0,
  unrealized_pnl REAL NOT NULL DEFAULT 0,
  realized_pnl REAL,
  exit_price REAL,
  stop_loss_price REAL NOT NULL,
  stop_loss_percentage REAL NOT NULL,
  status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'closed', 'stopped')),
  is_monitoring INTEGER NOT NULL DEFAULT 1,
  entry_order_id TEXT NOT NULL DEFAULT '',
  exit_order_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  opened_at_ms INTEGER NOT NULL,
  updated_at_ms INTEGER NOT NULL,
  closed_at_ms INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_symbol ON positions(symbol) WHERE status = 'open';
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status, is_monitoring);

CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  venue_order_id TEXT NOT NULL DEFAULT '',
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity REAL NOT NULL,
  price REAL NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  executed_quantity REAL NOT NULL DEFAULT 0,
  executed_price REAL NOT NULL DEFAULT 0,
  position_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL DEFAULT '',
  created_at_ms INTEGER NOT NULL,
  updated_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at_ms);

CREATE TABLE IF NOT EXISTS audit_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event TEXT NOT NULL,
  detail TEXT,
  created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at_ms);
`)
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

func toMs(t time.Time) int64 { return t.UnixMilli() }

func fromMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nowMs() int64 { return time.Now().UnixMilli() }

// listQuery appends time filters, ordering and pagination on tsCol.
func listQuery(base, tsCol string, since, until *time.Time, limit, offset int) (string, []any) {
	query := base + ` WHERE 1=1`
	var args []any
	if since != nil {
		query += " AND " + tsCol + " >= ?"
		args = append(args, toMs(*since))
	}
	if until != nil {
		query += " AND " + tsCol + " <= ?"
		args = append(args, toMs(*until))
	}
	query += " ORDER BY " + tsCol + " DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	} else if offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

// inClause returns "?, ?, ?" and the matching args.
func inClause(ids []string) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return strings.Join(marks, ", "), args
}
