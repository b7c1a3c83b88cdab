package strategy

import (
	"context"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// SignalSource turns one scored news event into trading signals.
type SignalSource interface {
	Name() string
	Generate(ctx context.Context, ev domain.NewsEvent) ([]domain.TradingSignal, error)
}

// OpenPositionLookup reports whether an open position exists for a symbol.
type OpenPositionLookup interface {
	GetOpenBySymbol(ctx context.Context, symbol string) (domain.Position, error)
}

// Config holds signal thresholds.
type Config struct {
	SupportedCoins     []string
	QuoteAsset         string
	MinConfidence      float64
	SentimentThreshold float64
}
