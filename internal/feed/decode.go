package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// wireEvent accepts both the compact upstream shape and the collector's
// stored shape, where the score is sentiment_score and mentioned_coins is a
// JSON-encoded string.
type wireEvent struct {
	ID             json.RawMessage `json:"id"`
	Title          string          `json:"title"`
	Source         string          `json:"source"`
	Sentiment      string          `json:"sentiment"`
	Score          *float64        `json:"score"`
	SentimentScore *float64        `json:"sentiment_score"`
	Confidence     float64         `json:"confidence"`
	MentionedCoins json.RawMessage `json:"mentioned_coins"`
	PublishedAt    string          `json:"published_at"`
}

// DecodeEvent parses and validates one scored news event.
func DecodeEvent(data []byte) (domain.NewsEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.NewsEvent{}, fmt.Errorf("feed: decode event: %w", err)
	}

	ev := domain.NewsEvent{
		ID:         rawID(w.ID),
		Title:      w.Title,
		Source:     w.Source,
		Sentiment:  domain.Sentiment(strings.ToLower(strings.TrimSpace(w.Sentiment))),
		Confidence: w.Confidence,
	}

	switch ev.Sentiment {
	case domain.SentimentPositive, domain.SentimentNegative, domain.SentimentNeutral:
	default:
		return domain.NewsEvent{}, fmt.Errorf("feed: event %s: unknown sentiment %q", ev.ID, w.Sentiment)
	}

	switch {
	case w.Score != nil:
		ev.Score = *w.Score
	case w.SentimentScore != nil:
		ev.Score = *w.SentimentScore
	}
	if ev.Score < -1 || ev.Score > 1 {
		return domain.NewsEvent{}, fmt.Errorf("feed: event %s: score %v outside [-1, 1]", ev.ID, ev.Score)
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		return domain.NewsEvent{}, fmt.Errorf("feed: event %s: confidence %v outside [0, 1]", ev.ID, ev.Confidence)
	}

	coins, err := decodeCoins(w.MentionedCoins)
	if err != nil {
		return domain.NewsEvent{}, fmt.Errorf("feed: event %s: %w", ev.ID, err)
	}
	ev.MentionedCoins = coins

	if w.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, w.PublishedAt); err == nil {
			ev.PublishedAt = t.UTC()
		}
	}
	return ev, nil
}

// rawID accepts a string or numeric id.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func decodeCoins(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var coins []string
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("mentioned_coins: %w", err)
		}
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			return nil, nil
		}
		raw = json.RawMessage(encoded)
	}
	if err := json.Unmarshal(raw, &coins); err != nil {
		return nil, fmt.Errorf("mentioned_coins: %w", err)
	}
	return coins, nil
}
