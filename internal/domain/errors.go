package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	// Venue failures. Recoverable per operation.
	ErrUnknownSymbol       = errors.New("unknown symbol")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRejectedOrder       = errors.New("order rejected")
	// ErrUnpricedFill means the venue executed an order but no exit price
	// could be established for it. Needs operator attention.
	ErrUnpricedFill = errors.New("fill executed without a price")

	ErrRiskLimitExceeded = errors.New("risk limit exceeded")
	ErrPositionNotOpen   = errors.New("position not open")
	ErrPositionExists    = errors.New("open position already exists for symbol")
)

// RiskLimitError reports a denied risk check. Check names the first failing
// check; Failed lists every check that failed in evaluation order.
type RiskLimitError struct {
	Check  string
	Detail string
	Failed []string
}

func (e *RiskLimitError) Error() string {
	msg := fmt.Sprintf("risk limit exceeded: %s", e.Check)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if len(e.Failed) > 1 {
		msg += " [failed: " + strings.Join(e.Failed, ", ") + "]"
	}
	return msg
}

func (e *RiskLimitError) Unwrap() error { return ErrRiskLimitExceeded }

// StopLossExecutionError is raised when a triggered stop-loss could not be
// executed. It halts the monitor for that position only.
type StopLossExecutionError struct {
	PositionID string
	Symbol     string
	Err        error
}

func (e *StopLossExecutionError) Error() string {
	return fmt.Sprintf("stop-loss execution failed for position %s (%s): %v", e.PositionID, e.Symbol, e.Err)
}

func (e *StopLossExecutionError) Unwrap() error { return e.Err }
