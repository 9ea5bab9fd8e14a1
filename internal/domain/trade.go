package domain

import "time"

// CloseReason records why a position was exited.
type CloseReason string

const (
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonStrategy   CloseReason = "strategy_exit"
	CloseReasonEmergency  CloseReason = "emergency"
	CloseReasonShutdown   CloseReason = "shutdown"
	CloseReasonManual     CloseReason = "manual"
)

// TradeResult is the terminal record of a closed position. It is appended to
// the risk manager's trade history and persisted by the trade store.
type TradeResult struct {
	ID         string
	Symbol     string
	Side       SignalSide
	EntryPrice float64
	ExitPrice  float64
	Size       float64
	PnL        float64
	Reason     CloseReason
	Strategy   string
	Exchange   string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// Profitable reports whether the trade closed with a positive PnL.
func (t TradeResult) Profitable() bool {
	return t.PnL > 0
}

// HoldingTime returns how long the position stayed open.
func (t TradeResult) HoldingTime() time.Duration {
	return t.ClosedAt.Sub(t.OpenedAt)
}
