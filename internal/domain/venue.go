package domain

import "context"

// Venue is the exchange quote and execution interface.
type Venue interface {
	Name() string
	Quote(ctx context.Context, symbol string) (float64, error)
	MarketOrder(ctx context.Context, symbol string, side OrderSide, quantity float64) (ExecutionReport, error)
	Balance(ctx context.Context, asset string) (float64, error)
	Balances(ctx context.Context) (map[string]float64, error)
}
