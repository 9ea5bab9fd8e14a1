package domain

import "time"

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "open"
	PositionStatusClosed PositionStatus = "closed"
)

// PricePoint records one observed price for a position at a point in time.
type PricePoint struct {
	Time  time.Time
	Price float64
}

// Position is an exchange-confirmed open exposure. It is owned exclusively
// by the position manager: mutated only by the price-update path and the
// close path, and removed from the open set on successful close.
type Position struct {
	ID              string
	Symbol          string
	Side            SignalSide
	EntryPrice      float64
	CurrentPrice    float64
	Size            float64
	TakeProfit      float64
	StopLoss        float64
	Strategy        string
	Exchange        string
	ExchangeOrderID string
	UnrealizedPnL   float64
	RealizedPnL     float64
	MaxAdversePnL   float64 // most negative unrealized PnL observed
	MaxFavorablePnL float64 // most positive unrealized PnL observed
	Status          PositionStatus
	OpenedAt        time.Time
	ClosedAt        *time.Time
	ExitPrice       *float64
	PriceHistory    []PricePoint // append-only, trimmed to a bounded window
	PartialFills    int
}

// PnLAt returns the profit for this position if it were exited at price.
func (p Position) PnLAt(price float64) float64 {
	if p.Side == SignalSideShort {
		return (p.EntryPrice - price) * p.Size
	}
	return (price - p.EntryPrice) * p.Size
}

// HitTakeProfit reports whether price has reached the take-profit target.
func (p Position) HitTakeProfit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == SignalSideShort {
		return price <= p.TakeProfit
	}
	return price >= p.TakeProfit
}

// HitStopLoss reports whether price has breached the stop-loss level.
func (p Position) HitStopLoss(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == SignalSideShort {
		return price >= p.StopLoss
	}
	return price <= p.StopLoss
}

// Notional returns the quote-currency value of the position at entry.
func (p Position) Notional() float64 {
	return p.EntryPrice * p.Size
}
