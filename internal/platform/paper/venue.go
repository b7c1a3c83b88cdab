// Package paper implements an in-process simulated spot exchange. Market
// orders fill immediately at the current quote and move balances between
// the base and quote assets.
package paper

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// Config seeds the simulated account.
type Config struct {
	QuoteAsset    string
	StartingQuote float64
	Prices        map[string]float64 // symbol -> base price
	Jitter        float64            // max relative deviation per quote, e.g. 0.02
}

// Venue is a mutex-guarded simulated exchange.
type Venue struct {
	mu       sync.Mutex
	quote    string
	prices   map[string]float64
	balances map[string]float64
	jitter   float64
	nextID   int64
	randFn   func() float64
}

var _ domain.Venue = (*Venue)(nil)

// New returns a paper venue holding cfg.StartingQuote of the quote asset.
func New(cfg Config) *Venue {
	quote := strings.ToUpper(cfg.QuoteAsset)
	if quote == "" {
		quote = "USDT"
	}
	prices := make(map[string]float64, len(cfg.Prices))
	for sym, p := range cfg.Prices {
		prices[strings.ToUpper(sym)] = p
	}
	return &Venue{
		quote:    quote,
		prices:   prices,
		balances: map[string]float64{quote: cfg.StartingQuote},
		jitter:   cfg.Jitter,
		nextID:   1,
		randFn:   rand.Float64,
	}
}

// Name identifies the venue in logs and status.
func (v *Venue) Name() string { return "paper" }

// SetPrice overrides the base price of a symbol.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[strings.ToUpper(symbol)] = price
}

// Credit adds quantity of asset to the account. Used to restore holdings for
// positions that survive a restart.
func (v *Venue) Credit(asset string, quantity float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[strings.ToUpper(asset)] += quantity
}

// BaseAsset strips the quote asset suffix from symbol.
func (v *Venue) BaseAsset(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), v.quote)
}

// quoteLocked returns the jittered price. Caller holds v.mu.
func (v *Venue) quoteLocked(symbol string) (float64, error) {
	base, ok := v.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: quote %s: %w", symbol, domain.ErrUnknownSymbol)
	}
	if v.jitter <= 0 {
		return base, nil
	}
	return base * (1 + (v.randFn()*2-1)*v.jitter), nil
}

// Quote returns the current simulated price.
func (v *Venue) Quote(_ context.Context, symbol string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.quoteLocked(strings.ToUpper(symbol))
}

// MarketOrder fills quantity at the current quote.
func (v *Venue) MarketOrder(_ context.Context, symbol string, side domain.OrderSide, quantity float64) (domain.ExecutionReport, error) {
	symbol = strings.ToUpper(symbol)
	if quantity <= 0 {
		return domain.ExecutionReport{}, fmt.Errorf("paper: order %s quantity %v: %w", symbol, quantity, domain.ErrRejectedOrder)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	price, err := v.quoteLocked(symbol)
	if err != nil {
		return domain.ExecutionReport{}, err
	}
	base := strings.TrimSuffix(symbol, v.quote)
	notional := quantity * price

	switch side {
	case domain.OrderSideBuy:
		if v.balances[v.quote] < notional {
			return domain.ExecutionReport{}, fmt.Errorf("paper: buy %s: need %.2f %s: %w", symbol, notional, v.quote, domain.ErrInsufficientBalance)
		}
		v.balances[v.quote] -= notional
		v.balances[base] += quantity
	case domain.OrderSideSell:
		if v.balances[base] < quantity {
			return domain.ExecutionReport{}, fmt.Errorf("paper: sell %s: hold %v %s: %w", symbol, v.balances[base], base, domain.ErrInsufficientBalance)
		}
		v.balances[base] -= quantity
		v.balances[v.quote] += notional
	default:
		return domain.ExecutionReport{}, fmt.Errorf("paper: invalid side %q: %w", side, domain.ErrRejectedOrder)
	}

	id := v.nextID
	v.nextID++

	return domain.ExecutionReport{
		VenueOrderID:     "paper-" + strconv.FormatInt(id, 10),
		Symbol:           symbol,
		Side:             side,
		Status:           domain.OrderStatusFilled,
		ExecutedQuantity: quantity,
		ExecutedPrice:    price,
	}, nil
}

// Balance returns the free balance of asset.
func (v *Venue) Balance(_ context.Context, asset string) (float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[strings.ToUpper(asset)], nil
}

// Balances returns a copy of all non-zero balances.
func (v *Venue) Balances(_ context.Context) (map[string]float64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := maps.Clone(v.balances)
	for k, amt := range out {
		if amt == 0 && k != v.quote {
			delete(out, k)
		}
	}
	return out, nil
}
