package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

const defaultQuoteAsset = "USDT"

// Sentiment maps sentiment-scored news to buy and sell signals.
//
// A buy is emitted for each supported coin mentioned in a positive event
// whose score exceeds the threshold. A sell is emitted only for a negative
// event below the negated threshold when an open position exists for the
// coin's symbol. Events under the confidence floor produce nothing.
type Sentiment struct {
	cfg       Config
	supported map[string]bool
	positions OpenPositionLookup
	logger    *slog.Logger
	nowFn     func() time.Time
}

// NewSentiment creates the generator. Thresholds are used as given; the
// config layer supplies the 0.6 confidence and 0.3 score defaults.
func NewSentiment(cfg Config, positions OpenPositionLookup, logger *slog.Logger) *Sentiment {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = defaultQuoteAsset
	}
	cfg.QuoteAsset = strings.ToUpper(cfg.QuoteAsset)

	supported := make(map[string]bool, len(cfg.SupportedCoins))
	for _, c := range cfg.SupportedCoins {
		supported[strings.ToUpper(strings.TrimSpace(c))] = true
	}

	return &Sentiment{
		cfg:       cfg,
		supported: supported,
		positions: positions,
		logger:    logger.With(slog.String("strategy", "sentiment")),
		nowFn:     time.Now,
	}
}

// Name returns the strategy identifier.
func (s *Sentiment) Name() string { return "sentiment" }

// Symbol resolves a coin to its trading pair.
func (s *Sentiment) Symbol(coin string) string {
	return SymbolFor(coin, s.cfg.QuoteAsset)
}

// SymbolFor returns upper(coin)+quote. Coins already given as pairs are
// returned unchanged.
func SymbolFor(coin, quote string) string {
	c := strings.ToUpper(strings.TrimSpace(coin))
	quote = strings.ToUpper(quote)
	if strings.HasSuffix(c, quote) && c != quote {
		return c
	}
	return c + quote
}

// Supported reports whether coin is tradable. Coins given as full pairs are
// matched on their base asset.
func (s *Sentiment) Supported(coin string) bool {
	c := strings.ToUpper(strings.TrimSpace(coin))
	if s.supported[c] {
		return true
	}
	base := strings.TrimSuffix(c, s.cfg.QuoteAsset)
	return base != c && s.supported[base]
}

// Generate evaluates one event. Signals are returned in the order the coins
// were mentioned; a coin mentioned twice yields at most one signal.
func (s *Sentiment) Generate(ctx context.Context, ev domain.NewsEvent) ([]domain.TradingSignal, error) {
	if ev.Confidence < s.cfg.MinConfidence {
		s.logger.DebugContext(ctx, "event below confidence floor",
			slog.String("event_id", ev.ID),
			slog.Float64("confidence", ev.Confidence),
		)
		return nil, nil
	}

	var signals []domain.TradingSignal
	seen := make(map[string]bool, len(ev.MentionedCoins))

	for _, coin := range ev.MentionedCoins {
		if !s.Supported(coin) {
			continue
		}
		symbol := s.Symbol(coin)
		if seen[symbol] {
			continue
		}
		seen[symbol] = true

		sig, ok, err := s.evaluate(ctx, ev, coin, symbol)
		if err != nil {
			return signals, err
		}
		if ok {
			signals = append(signals, sig)
		}
	}

	if len(signals) > 0 {
		s.logger.InfoContext(ctx, "signals generated",
			slog.String("event_id", ev.ID),
			slog.Int("count", len(signals)),
		)
	}
	return signals, nil
}

func (s *Sentiment) evaluate(ctx context.Context, ev domain.NewsEvent, coin, symbol string) (domain.TradingSignal, bool, error) {
	display := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(coin)), s.cfg.QuoteAsset)
	sig := domain.TradingSignal{
		Symbol:     symbol,
		Confidence: ev.Confidence,
		Sentiment:  ev.Sentiment,
		EventID:    ev.ID,
		CreatedAt:  s.nowFn().UTC(),
	}

	switch {
	case ev.Sentiment == domain.SentimentPositive && ev.Score > s.cfg.SentimentThreshold:
		sig.Action = domain.SignalActionBuy
		sig.Reasoning = fmt.Sprintf("Positive sentiment (%.2f) for %s from news", ev.Score, display)
		return sig, true, nil

	case ev.Sentiment == domain.SentimentNegative && ev.Score < -s.cfg.SentimentThreshold:
		_, err := s.positions.GetOpenBySymbol(ctx, symbol)
		if errors.Is(err, domain.ErrNotFound) {
			return sig, false, nil
		}
		if err != nil {
			return sig, false, fmt.Errorf("strategy: sentiment: lookup open %s: %w", symbol, err)
		}
		sig.Action = domain.SignalActionSell
		sig.Reasoning = fmt.Sprintf("Negative sentiment (%.2f) for %s, closing position", ev.Score, display)
		return sig, true, nil
	}
	return sig, false, nil
}

var _ SignalSource = (*Sentiment)(nil)
