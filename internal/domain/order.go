package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the venue-reported order status.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
)

// Order is a persisted record of a venue market order.
type Order struct {
	ID               string      `json:"id"`
	VenueOrderID     string      `json:"venue_order_id"`
	Symbol           string      `json:"symbol"`
	Side             OrderSide   `json:"side"`
	Quantity         float64     `json:"quantity"`
	Price            float64     `json:"price"`
	Status           OrderStatus `json:"status"`
	ExecutedQuantity float64     `json:"executed_quantity"`
	ExecutedPrice    float64     `json:"executed_price"`
	PositionID       string      `json:"position_id,omitempty"`
	EventID          string      `json:"event_id,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ExecutionReport is the venue's answer to a market order.
type ExecutionReport struct {
	VenueOrderID     string
	Symbol           string
	Side             OrderSide
	Status           OrderStatus
	ExecutedQuantity float64
	ExecutedPrice    float64
}
