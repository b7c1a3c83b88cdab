package domain

import "time"

// PositionStatus tracks the position lifecycle. Open is the only
// non-terminal state.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosed  PositionStatus = "closed"
	PositionStatusStopped PositionStatus = "stopped"
)

// Terminal reports whether no further transition is possible.
func (s PositionStatus) Terminal() bool {
	return s == PositionStatusClosed || s == PositionStatusStopped
}

// Position is an open or historical holding in a single symbol.
type Position struct {
	ID                 string         `json:"id"`
	Symbol             string         `json:"symbol"`
	Quantity           float64        `json:"quantity"`
	EntryPrice         float64        `json:"entry_price"`
	CurrentPrice       float64        `json:"current_price"`
	UnrealizedPnL      float64        `json:"unrealized_pnl"`
	RealizedPnL        *float64       `json:"realized_pnl,omitempty"`
	StopLossPrice      float64        `json:"stop_loss_price"`
	StopLossPercentage float64        `json:"stop_loss_percentage"`
	Status             PositionStatus `json:"status"`
	IsMonitoring       bool           `json:"is_monitoring"`
	EntryOrderID       string         `json:"entry_order_id,omitempty"`
	ExitOrderID        string         `json:"exit_order_id,omitempty"`
	EventID            string         `json:"event_id,omitempty"`
	OpenedAt           time.Time      `json:"opened_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	ClosedAt           *time.Time     `json:"closed_at,omitempty"`
}

// Monitored reports whether the position should have a live stop-loss monitor.
func (p Position) Monitored() bool {
	return p.Status == PositionStatusOpen && p.IsMonitoring
}

// StopLossFor returns entry * (1 - pct).
func StopLossFor(entry, pct float64) float64 {
	return entry * (1 - pct)
}

// UnrealizedPnLAt returns (price - entry) * quantity.
func (p Position) UnrealizedPnLAt(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity
}

// PositionClose carries the fields written by a terminal transition.
type PositionClose struct {
	Status      PositionStatus
	ExitPrice   float64
	RealizedPnL float64
	ExitOrderID string
	ClosedAt    time.Time
}

// CloseReason identifies why a position is being closed.
type CloseReason string

const (
	CloseReasonManual   CloseReason = "manual"
	CloseReasonSignal   CloseReason = "signal"
	CloseReasonStopLoss CloseReason = "stop_loss"
)

// TerminalStatus maps a close reason to the resulting position status.
func (r CloseReason) TerminalStatus() PositionStatus {
	if r == CloseReasonStopLoss {
		return PositionStatusStopped
	}
	return PositionStatusClosed
}
