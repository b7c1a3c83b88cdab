package domain

// TradingSummary is the dashboard read model.
type TradingSummary struct {
	TotalTrades        int                `json:"total_trades"`
	OpenPositionsCount int                `json:"open_positions_count"`
	TotalRealizedPnL   float64            `json:"total_realized_pnl"`
	Balances           map[string]float64 `json:"balances"`
	RecentOrders       []Order            `json:"recent_orders"`
	OpenPositions      []Position         `json:"open_positions"`
	RiskStats          RiskStats          `json:"risk_stats"`
}

// MonitorState is the lifecycle state of one position monitor.
type MonitorState string

const (
	MonitorStarting   MonitorState = "starting"
	MonitorPolling    MonitorState = "polling"
	MonitorTriggering MonitorState = "triggering"
	MonitorStopped    MonitorState = "stopped"
)

// MonitoredPosition describes one live monitor.
type MonitoredPosition struct {
	PositionID    string       `json:"position_id"`
	Symbol        string       `json:"symbol"`
	EntryPrice    float64      `json:"entry_price"`
	StopLossPrice float64      `json:"stop_loss_price"`
	Quantity      float64      `json:"quantity"`
	State         MonitorState `json:"state"`
	Running       bool         `json:"running"`
}

// MonitoringStatus is the stop-loss supervisor read model.
type MonitoringStatus struct {
	TotalMonitors      int                 `json:"total_monitors"`
	Running            bool                `json:"running"`
	MonitoredPositions []MonitoredPosition `json:"monitored_positions"`
}
