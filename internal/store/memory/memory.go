// Package memory provides process-local implementations of the store
// interfaces. State is lost on restart; it backs the "memory" store driver
// and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// PositionStore is a mutex-guarded map of positions.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore returns an empty store.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

func clonePosition(p domain.Position) domain.Position {
	if p.RealizedPnL != nil {
		v := *p.RealizedPnL
		p.RealizedPnL = &v
	}
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		p.ClosedAt = &t
	}
	return p
}

// Create inserts a position, enforcing one open position per symbol.
func (s *PositionStore) Create(_ context.Context, p domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[p.ID]; ok {
		return fmt.Errorf("memory: create position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	if p.Status == domain.PositionStatusOpen {
		for _, existing := range s.positions {
			if existing.Symbol == p.Symbol && existing.Status == domain.PositionStatusOpen {
				return fmt.Errorf("memory: create position %s: %w", p.ID, domain.ErrPositionExists)
			}
		}
	}
	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	p.UpdatedAt = time.Now().UTC()
	s.positions[p.ID] = clonePosition(p)
	return nil
}

// GetByID returns a copy of the position.
func (s *PositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(p), nil
}

// GetOpenBySymbol returns the open position for symbol.
func (s *PositionStore) GetOpenBySymbol(_ context.Context, symbol string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.positions {
		if p.Symbol == symbol && p.Status == domain.PositionStatusOpen {
			return clonePosition(p), nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

// ListOpen returns open positions, newest first.
func (s *PositionStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.Status == domain.PositionStatusOpen }, 0, 0), nil
}

// List returns positions newest first.
func (s *PositionStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool {
		return inRange(p.OpenedAt, opts)
	}, opts.Limit, opts.Offset), nil
}

func (s *PositionStore) filter(keep func(domain.Position) bool, limit, offset int) []domain.Position {
	s.mu.RLock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, clonePosition(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return page(out, limit, offset)
}

// mutateOpen applies fn to an open position under the write lock.
func (s *PositionStore) mutateOpen(id string, fn func(*domain.Position)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PositionStatusOpen {
		return domain.ErrPositionNotOpen
	}
	fn(&p)
	p.UpdatedAt = time.Now().UTC()
	s.positions[id] = p
	return nil
}

// UpdateMark writes price and unrealized PnL while open.
func (s *PositionStore) UpdateMark(_ context.Context, id string, price, unrealized float64) error {
	return s.mutateOpen(id, func(p *domain.Position) {
		p.CurrentPrice = price
		p.UnrealizedPnL = unrealized
	})
}

// UpdateStopLoss replaces the stop-loss price while open.
func (s *PositionStore) UpdateStopLoss(_ context.Context, id string, price float64) error {
	return s.mutateOpen(id, func(p *domain.Position) {
		p.StopLossPrice = price
	})
}

// SetMonitoring toggles is_monitoring.
func (s *PositionStore) SetMonitoring(_ context.Context, id string, monitoring bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.IsMonitoring = monitoring
	p.UpdatedAt = time.Now().UTC()
	s.positions[id] = p
	return nil
}

// Close performs the open -> terminal compare-and-set.
func (s *PositionStore) Close(_ context.Context, id string, c domain.PositionClose) error {
	closedAt := c.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	return s.mutateOpen(id, func(p *domain.Position) {
		pnl := c.RealizedPnL
		p.Status = c.Status
		p.CurrentPrice = c.ExitPrice
		p.RealizedPnL = &pnl
		p.UnrealizedPnL = 0
		p.ExitOrderID = c.ExitOrderID
		p.IsMonitoring = false
		p.ClosedAt = &closedAt
	})
}

// ListClosedBefore returns terminal positions closed before the cutoff,
// oldest first.
func (s *PositionStore) ListClosedBefore(_ context.Context, before time.Time, limit int) ([]domain.Position, error) {
	s.mu.RLock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status.Terminal() && p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, clonePosition(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClosedAt.Before(*out[j].ClosedAt) })
	return page(out, limit, 0), nil
}

// DeleteByIDs removes non-open positions.
func (s *PositionStore) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, id := range ids {
		if p, ok := s.positions[id]; ok && p.Status.Terminal() {
			delete(s.positions, id)
			n++
		}
	}
	return n, nil
}

// OrderStore keeps orders in insertion order.
type OrderStore struct {
	mu     sync.RWMutex
	orders []domain.Order
}

var _ domain.OrderStore = (*OrderStore)(nil)

// NewOrderStore returns an empty store.
func NewOrderStore() *OrderStore {
	return &OrderStore{}
}

// Create appends an order.
func (s *OrderStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orders {
		if existing.ID == o.ID {
			return fmt.Errorf("memory: create order %s: %w", o.ID, domain.ErrAlreadyExists)
		}
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders = append(s.orders, o)
	return nil
}

// GetByID returns a single order.
func (s *OrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

// LinkPosition sets the position reference of an order.
func (s *OrderStore) LinkPosition(_ context.Context, orderID, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.orders {
		if s.orders[i].ID == orderID {
			s.orders[i].PositionID = positionID
			s.orders[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return domain.ErrNotFound
}

// List returns orders newest first.
func (s *OrderStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.RLock()
	out := make([]domain.Order, 0, len(s.orders))
	for i := len(s.orders) - 1; i >= 0; i-- {
		if inRange(s.orders[i].CreatedAt, opts) {
			out = append(out, s.orders[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, opts.Limit, opts.Offset), nil
}

// ListBefore returns orders created before the cutoff, oldest first.
func (s *OrderStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.CreatedAt.Before(before) {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return page(out, limit, 0), nil
}

// DeleteByIDs removes the given orders.
func (s *OrderStore) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.orders[:0]
	var n int64
	for _, o := range s.orders {
		if drop[o.ID] {
			n++
			continue
		}
		kept = append(kept, o)
	}
	s.orders = kept
	return n, nil
}

// AuditStore is an append-only slice of entries.
type AuditStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []domain.AuditEntry
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore returns an empty audit log.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Log appends an entry.
func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        s.nextID,
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if inRange(s.entries[i].CreatedAt, opts) {
			out = append(out, s.entries[i])
		}
	}
	s.mu.RUnlock()
	return page(out, opts.Limit, opts.Offset), nil
}

func inRange(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](in []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
