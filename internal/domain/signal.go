package domain

import "time"

// Sentiment is the upstream classification of a news event.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// NewsEvent is a sentiment-scored news item produced upstream.
type NewsEvent struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	Source         string    `json:"source,omitempty"`
	Sentiment      Sentiment `json:"sentiment"`
	Score          float64   `json:"score"`
	Confidence     float64   `json:"confidence"`
	MentionedCoins []string  `json:"mentioned_coins"`
	PublishedAt    time.Time `json:"published_at,omitempty"`
}

// SignalAction is the trading intent of a signal. Hold is never emitted.
type SignalAction string

const (
	SignalActionBuy  SignalAction = "buy"
	SignalActionSell SignalAction = "sell"
)

// TradingSignal is an ephemeral trading intent derived from one event.
type TradingSignal struct {
	Symbol     string       `json:"symbol"`
	Action     SignalAction `json:"action"`
	Confidence float64      `json:"confidence"`
	Sentiment  Sentiment    `json:"sentiment"`
	EventID    string       `json:"event_id"`
	Reasoning  string       `json:"reasoning"`
	CreatedAt  time.Time    `json:"created_at"`
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string `json:"mode"`
	Venue         string `json:"venue"`
	Store         string `json:"store"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	OpenPositions int    `json:"open_positions"`
	Monitors      int    `json:"monitors"`
	QueueDepth    int    `json:"queue_depth"`
	QueueDropped  int64  `json:"queue_dropped"`
}
