package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Mark updates apply only while the
// position is open; Close is a compare-and-set on status = open and returns
// ErrPositionNotOpen when the position already left the open state.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	GetOpenBySymbol(ctx context.Context, symbol string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	List(ctx context.Context, opts ListOpts) ([]Position, error)
	UpdateMark(ctx context.Context, id string, price, unrealized float64) error
	UpdateStopLoss(ctx context.Context, id string, price float64) error
	SetMonitoring(ctx context.Context, id string, monitoring bool) error
	Close(ctx context.Context, id string, c PositionClose) error
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Position, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// OrderStore persists venue orders.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	LinkPosition(ctx context.Context, orderID, positionID string) error
	List(ctx context.Context, opts ListOpts) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Order, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
