package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// PricesChannel carries price observations on the signal bus.
const PricesChannel = "prices"

// PriceService records observed quotes and serves the latest price per
// symbol, preferring the shared cache over a live venue quote.
type PriceService struct {
	venue  domain.Venue
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPriceService creates a PriceService. cache and bus may be nil.
func NewPriceService(venue domain.Venue, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *PriceService {
	return &PriceService{
		venue:  venue,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "prices")),
	}
}

// Observe stores a quote in the cache and publishes it. Failures are logged.
func (s *PriceService) Observe(ctx context.Context, symbol string, price float64, ts time.Time) {
	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, symbol, price, ts); err != nil {
			s.logger.WarnContext(ctx, "cache price failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"symbol":    symbol,
		"price":     price,
		"timestamp": ts.UTC().Format(time.RFC3339Nano),
	})
	if err := s.bus.Publish(ctx, PricesChannel, evt); err != nil {
		s.logger.DebugContext(ctx, "publish price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}

// Latest returns one price per symbol. Cached prices are used first; missing
// symbols are quoted from the venue and written back. Symbols the venue does
// not know are left out.
func (s *PriceService) Latest(ctx context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64, len(symbols))
	if s.cache != nil && len(symbols) > 0 {
		cached, err := s.cache.GetPrices(ctx, symbols)
		if err != nil {
			s.logger.WarnContext(ctx, "cache read failed", slog.String("error", err.Error()))
		}
		for k, v := range cached {
			out[k] = v
		}
	}

	for _, sym := range symbols {
		if _, ok := out[sym]; ok {
			continue
		}
		p, err := s.venue.Quote(ctx, sym)
		if err != nil {
			if ctx.Err() != nil {
				return out, fmt.Errorf("prices: quote %s: %w", sym, err)
			}
			s.logger.DebugContext(ctx, "quote unavailable",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[sym] = p
		s.Observe(ctx, sym, p, time.Now())
	}
	return out, nil
}
