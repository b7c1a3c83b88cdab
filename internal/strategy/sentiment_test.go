package strategy

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/sentibot/internal/domain"
	"github.com/alanyoungcy/sentibot/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGenerator(t *testing.T, open ...string) *Sentiment {
	t.Helper()
	return newGeneratorWith(t, Config{
		SupportedCoins:     []string{"BTC", "ETH", "BNB", "ADA", "SOL"},
		QuoteAsset:         "USDT",
		MinConfidence:      0.6,
		SentimentThreshold: 0.3,
	}, open...)
}

func newGeneratorWith(t *testing.T, cfg Config, open ...string) *Sentiment {
	t.Helper()
	store := memory.NewPositionStore()
	for i, sym := range open {
		require.NoError(t, store.Create(context.Background(), domain.Position{
			ID: sym + string(rune('a'+i)), Symbol: sym, Status: domain.PositionStatusOpen,
		}))
	}
	return NewSentiment(cfg, store, discardLogger())
}

func TestPositiveEventBuys(t *testing.T) {
	g := newGenerator(t)
	sigs, err := g.Generate(context.Background(), domain.NewsEvent{
		ID: "e1", Sentiment: domain.SentimentPositive, Score: 0.8, Confidence: 0.9,
		MentionedCoins: []string{"BTC"},
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "BTCUSDT", sigs[0].Symbol)
	assert.Equal(t, domain.SignalActionBuy, sigs[0].Action)
	assert.Equal(t, "e1", sigs[0].EventID)
	assert.Equal(t, "Positive sentiment (0.80) for BTC from news", sigs[0].Reasoning)
}

func TestThresholdsAreStrict(t *testing.T) {
	g := newGenerator(t, "BTCUSDT")
	ctx := context.Background()

	cases := []struct {
		name string
		ev   domain.NewsEvent
	}{
		{"low confidence", domain.NewsEvent{Sentiment: domain.SentimentPositive, Score: 0.9, Confidence: 0.59}},
		{"score at threshold", domain.NewsEvent{Sentiment: domain.SentimentPositive, Score: 0.3, Confidence: 0.9}},
		{"negative at threshold", domain.NewsEvent{Sentiment: domain.SentimentNegative, Score: -0.3, Confidence: 0.9}},
		{"neutral", domain.NewsEvent{Sentiment: domain.SentimentNeutral, Score: 0.9, Confidence: 0.9}},
		{"positive label negative score", domain.NewsEvent{Sentiment: domain.SentimentPositive, Score: -0.9, Confidence: 0.9}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.ev.MentionedCoins = []string{"BTC"}
			sigs, err := g.Generate(ctx, tc.ev)
			require.NoError(t, err)
			assert.Empty(t, sigs)
		})
	}
}

func TestConfidenceAtFloorPasses(t *testing.T) {
	g := newGenerator(t)
	sigs, err := g.Generate(context.Background(), domain.NewsEvent{
		Sentiment: domain.SentimentPositive, Score: 0.5, Confidence: 0.6, MentionedCoins: []string{"eth"},
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "ETHUSDT", sigs[0].Symbol)
}

func TestZeroThresholdsAreHonoured(t *testing.T) {
	g := newGeneratorWith(t, Config{SupportedCoins: []string{"BTC"}, QuoteAsset: "USDT"})
	sigs, err := g.Generate(context.Background(), domain.NewsEvent{
		Sentiment: domain.SentimentPositive, Score: 0.05, Confidence: 0.1, MentionedCoins: []string{"BTC"},
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "BTCUSDT", sigs[0].Symbol)

	sigs, err = g.Generate(context.Background(), domain.NewsEvent{
		Sentiment: domain.SentimentPositive, Score: 0, Confidence: 0.1, MentionedCoins: []string{"BTC"},
	})
	require.NoError(t, err)
	assert.Empty(t, sigs)
}

func TestSellRequiresOpenPosition(t *testing.T) {
	g := newGenerator(t, "ETHUSDT")
	sigs, err := g.Generate(context.Background(), domain.NewsEvent{
		ID: "e2", Sentiment: domain.SentimentNegative, Score: -0.7, Confidence: 0.8,
		MentionedCoins: []string{"BTC", "ETH"},
	})
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, "ETHUSDT", sigs[0].Symbol)
	assert.Equal(t, domain.SignalActionSell, sigs[0].Action)
	assert.Equal(t, "Negative sentiment (-0.70) for ETH, closing position", sigs[0].Reasoning)
}

func TestOrderPreservedAndUnsupportedSkipped(t *testing.T) {
	g := newGenerator(t)
	sigs, err := g.Generate(context.Background(), domain.NewsEvent{
		Sentiment: domain.SentimentPositive, Score: 0.9, Confidence: 0.9,
		MentionedCoins: []string{"SOL", "DOGE", "btc", "SOLUSDT", "ADA"},
	})
	require.NoError(t, err)
	require.Len(t, sigs, 3)
	assert.Equal(t, []string{"SOLUSDT", "BTCUSDT", "ADAUSDT"},
		[]string{sigs[0].Symbol, sigs[1].Symbol, sigs[2].Symbol})
}

func TestSymbolFor(t *testing.T) {
	assert.Equal(t, "BTCUSDT", SymbolFor("btc", "USDT"))
	assert.Equal(t, "ETHUSDT", SymbolFor(" ETHUSDT ", "usdt"))
	assert.Equal(t, "SOLBUSD", SymbolFor("sol", "BUSD"))
}
