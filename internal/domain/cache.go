package domain

import (
	"context"
	"time"
)

// Lock key namespaces. Opens serialize per symbol, closes per position and
// event deduplication per event id.
const (
	lockPrefixSymbol   = "symbol:"
	lockPrefixPosition = "position:"
	lockPrefixEvent    = "event:"
)

// SymbolLockKey is the lock held while a position is opened for symbol.
func SymbolLockKey(symbol string) string { return lockPrefixSymbol + symbol }

// PositionLockKey is the lock held while position id is being closed.
func PositionLockKey(id string) string { return lockPrefixPosition + id }

// EventLockKey marks news event id as already handled.
func EventLockKey(id string) string { return lockPrefixEvent + id }

// PriceCache holds the last price observed by the monitors so read models
// can answer without a venue round trip.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// RateLimiter meters both venue requests (Wait, with the limiter's own
// budget) and API clients (Allow, with a caller supplied budget).
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager hands out exclusive, expiring locks. Acquire returns
// ErrLockHeld when another holder owns key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage is one entry read from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries position and price notifications over pub/sub and
// scored news events over a durable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
