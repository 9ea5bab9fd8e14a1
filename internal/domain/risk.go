package domain

// RiskMetrics is a derived snapshot of portfolio risk, recomputed on demand
// from current positions and trade history. Never mutated in place.
type RiskMetrics struct {
	TotalExposure     float64
	CurrentDrawdown   float64 // percent decline from peak balance
	DailyPnL          float64
	WinRate           float64
	ProfitFactor      float64
	SharpeRatio       float64
	ConsecutiveLosses int
	OpenPositions     int
	TradesTotal       int
	CorrelationMatrix map[string]map[string]float64
}
