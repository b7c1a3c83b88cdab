package domain

// RiskStats is a snapshot of the risk gate's counters and limits.
type RiskStats struct {
	DailyTrades      int     `json:"daily_trades"`
	DailyLoss        float64 `json:"daily_loss"`
	MaxDailyTrades   int     `json:"max_daily_trades"`
	DailyLossLimit   float64 `json:"daily_loss_limit"`
	MaxOpenPositions int     `json:"max_open_positions"`
	LastResetDate    string  `json:"last_reset_date"`
}
