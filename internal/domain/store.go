package domain

import (
	"context"
	"time"
)

// TradeFilter narrows trade-history queries.
type TradeFilter struct {
	Symbol   string
	Strategy string
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}

// PerformanceSummary aggregates closed-trade outcomes over a time range.
type PerformanceSummary struct {
	Trades       int
	Wins         int
	Losses       int
	TotalPnL     float64
	GrossProfit  float64
	GrossLoss    float64
	WinRate      float64
	ProfitFactor float64
	From         time.Time
	To           time.Time
}

// PositionStore persists positions. The core calls it after state
// transitions but never depends on its success for in-memory correctness.
type PositionStore interface {
	Save(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	Close(ctx context.Context, id string, exitPrice, realizedPnL float64, closedAt time.Time) error
	GetOpen(ctx context.Context) ([]Position, error)
	GetByID(ctx context.Context, id string) (Position, error)
}

// OrderStore persists submitted orders and their terminal statuses.
type OrderStore interface {
	Save(ctx context.Context, order Order) error
	UpdateStatus(ctx context.Context, id string, status OrderStatus) error
	GetByID(ctx context.Context, id string) (Order, error)
}

// TradeStore persists terminal trade records.
type TradeStore interface {
	Save(ctx context.Context, trade TradeResult) error
	List(ctx context.Context, filter TradeFilter) ([]TradeResult, error)
	PerformanceSummary(ctx context.Context, from, to time.Time) (PerformanceSummary, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]TradeResult, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetricStore persists point-in-time gauge observations for offline
// analysis (PnL, exposure, book depth, venue latency).
type MetricStore interface {
	Save(ctx context.Context, name string, value float64, labels map[string]string, ts time.Time) error
}
