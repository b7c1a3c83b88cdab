package service

import (
	"strings"

	"github.com/shopspring/decimal"
)

// QuantityPrecision returns the number of decimal places used for a symbol's
// base quantity. Any pair containing BTC gets 6, so ETHBTC rounds like BTCUSDT.
func QuantityPrecision(symbol string) int32 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "BTC"):
		return 6
	case strings.Contains(s, "ETH"):
		return 5
	default:
		return 4
	}
}

// QuantityFor converts a quote amount into a base quantity at price, rounded
// half-up to the symbol's precision. Returns 0 for a non-positive price.
func QuantityFor(symbol string, amount, price float64) float64 {
	if price <= 0 || amount <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(amount).
		Div(decimal.NewFromFloat(price)).
		Round(QuantityPrecision(symbol))
	f, _ := q.Float64()
	return f
}

// formatQty renders a quantity at the symbol's precision.
func formatQty(symbol string, qty float64) string {
	return decimal.NewFromFloat(qty).StringFixed(QuantityPrecision(symbol))
}
