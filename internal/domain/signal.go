package domain

import "time"

// SignalSide is the direction of a proposed trade.
type SignalSide string

const (
	SignalSideLong  SignalSide = "long"
	SignalSideShort SignalSide = "short"
)

// Confidence grades how strongly a strategy (or a fusion of strategies)
// believes in a signal. Composite strategies scale exit targets by tier.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Signal is a strategy's proposed trade intent. It is transient: produced by
// a strategy, consumed once by the engine to build an order, never persisted.
type Signal struct {
	ID         string // UUID for dedup
	Symbol     string
	Side       SignalSide
	EntryPrice float64
	TakeProfit float64
	StopLoss   float64
	Size       float64
	Strategy   string
	Confidence Confidence
	Reason     string
	CreatedAt  time.Time
}

// OrderSideFor maps the signal direction to the order side that opens it.
func (s Signal) OrderSideFor() OrderSide {
	if s.Side == SignalSideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}
