package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType selects the execution style.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle as reported by a venue.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order is a trade request submitted to an exchange. It becomes a Position
// only when the venue reports a filled status.
type Order struct {
	ID        string
	Symbol    string
	Exchange  string
	Side      OrderSide
	Type      OrderType
	Size      float64
	Price     float64 // limit price; ignored for market orders
	Strategy  string
	SignalID  string
	Status    OrderStatus
	CreatedAt time.Time
}

// OrderResult is the venue's response to an order submission. A rejected
// result is a normal outcome, not an error.
type OrderResult struct {
	Status          OrderStatus
	FilledSize      float64
	FilledPrice     float64
	ExchangeOrderID string
	Message         string
	Retryable       bool
}

// Filled reports whether any quantity executed.
func (r OrderResult) Filled() bool {
	return (r.Status == OrderStatusFilled || r.Status == OrderStatusPartial) && r.FilledSize > 0
}
