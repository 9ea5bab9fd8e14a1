package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

type stubPositions struct {
	open []domain.Position
}

func (s *stubPositions) OpenPositions() []domain.Position { return s.open }

func newTestManager(cfg Config) *Manager {
	return NewManager(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCanOpenPositionSizeLimit(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	cfg.MaxPositionSizePct = 0.05
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})

	// 1.0 * 50000 = 50% of balance: denied.
	assert.False(t, m.CanOpenPosition("X", 1.0, 50_000))

	// 0.01 * 50000 = 0.5% of balance: allowed.
	assert.True(t, m.CanOpenPosition("X", 0.01, 50_000))
}

func TestCanOpenPositionExposureLimit(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	cfg.MaxPositionSizePct = 0.10
	cfg.MaxTotalRiskPct = 0.15
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{open: []domain.Position{
		{Symbol: "A", EntryPrice: 100, Size: 80}, // 8k exposure
	}})

	// 8k existing + 8k new = 16% > 15%: denied.
	assert.False(t, m.CanOpenPosition("B", 80, 100))

	// 8k + 5k = 13%: allowed.
	assert.True(t, m.CanOpenPosition("B", 50, 100))
}

func TestCalculateDrawdown(t *testing.T) {
	m := newTestManager(Defaults())
	m.mu.Lock()
	m.peakBalance = 110_000
	m.currentBalance = 90_000
	m.mu.Unlock()

	assert.InDelta(t, 18.18, m.CalculateDrawdown(), 0.01)
}

func TestDrawdownBlocksNewPositions(t *testing.T) {
	cfg := Defaults()
	cfg.MaxDrawdownPct = 15
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})
	m.mu.Lock()
	m.peakBalance = 110_000
	m.currentBalance = 90_000 // 18.18% drawdown
	m.mu.Unlock()

	assert.False(t, m.CanOpenPosition("X", 0.001, 100))
}

func TestPauseAfterConsecutiveLosses(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	cfg.PauseAfterLosses = 3
	cfg.PauseDuration = 300 * time.Second
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	loss := domain.TradeResult{Symbol: "X", PnL: -10}
	m.OnTradeClosed(loss)
	m.OnTradeClosed(loss)
	require.True(t, m.IsTradingAllowed())

	m.OnTradeClosed(loss)
	assert.False(t, m.IsTradingAllowed())
	assert.False(t, m.CanOpenPosition("X", 0.001, 100))

	// A profitable trade does not clear the pause early.
	m.OnTradeClosed(domain.TradeResult{Symbol: "X", PnL: 500})
	assert.False(t, m.IsTradingAllowed())

	// The pause lifts only after the window elapses.
	now = now.Add(301 * time.Second)
	assert.True(t, m.IsTradingAllowed())
	assert.True(t, m.CanOpenPosition("X", 0.001, 100))
}

func TestAdjustPositionSizeClamping(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})

	// Healthy account with no history: factors are all 1.
	assert.InDelta(t, 1.0, m.AdjustPositionSize(1.0, "X"), 1e-9)

	// Deep drawdown drives the factor product below the floor; the result
	// clamps at 0.2x base.
	m.mu.Lock()
	m.peakBalance = 100_000
	m.currentBalance = 81_000 // 19% drawdown of a 20% max
	m.mu.Unlock()
	assert.InDelta(t, 0.2, m.AdjustPositionSize(1.0, "X"), 1e-9)
}

func TestAdjustPositionSizePerformanceFactor(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})

	// Profit factor 1.0 halves the size via performanceFactor = pf/2.
	m.OnTradeClosed(domain.TradeResult{PnL: -100})
	m.OnTradeClosed(domain.TradeResult{PnL: 100})
	assert.InDelta(t, 0.5, m.AdjustPositionSize(1.0, "X"), 0.01)
}

func TestShouldEmergencyClose(t *testing.T) {
	cfg := Defaults()
	cfg.MaxDrawdownPct = 20
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})

	require.False(t, m.ShouldEmergencyClose())

	// Drawdown at 110% of the max triggers.
	m.mu.Lock()
	m.peakBalance = 100_000
	m.currentBalance = 77_000 // 23% >= 22%
	m.mu.Unlock()
	assert.True(t, m.ShouldEmergencyClose())
}

func TestEmergencyCloseOnDailyLoss(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	cfg.PauseAfterLosses = 0
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})

	m.OnTradeClosed(domain.TradeResult{PnL: -11_000})
	assert.True(t, m.ShouldEmergencyClose())
}

func TestDailyPnLBucketsRollOverAtDateChange(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	cfg.PauseAfterLosses = 0
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{})

	day1 := time.Date(2026, 8, 30, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return day1 }
	m.OnTradeClosed(domain.TradeResult{PnL: -11_000})
	require.True(t, m.ShouldEmergencyClose())

	// The next day starts a fresh bucket; yesterday's loss no longer
	// counts against the daily limit.
	m.now = func() time.Time { return day1.Add(2 * time.Hour) }
	assert.False(t, m.ShouldEmergencyClose())
}

func TestMetrics(t *testing.T) {
	cfg := Defaults()
	cfg.InitialBalance = 100_000
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{open: []domain.Position{
		{Symbol: "A", EntryPrice: 10, Size: 100},
	}})

	m.OnTradeClosed(domain.TradeResult{PnL: 300})
	m.OnTradeClosed(domain.TradeResult{PnL: -100})
	m.OnTradeClosed(domain.TradeResult{PnL: 200})

	got := m.Metrics()
	assert.Equal(t, 1000.0, got.TotalExposure)
	assert.Equal(t, 3, got.TradesTotal)
	assert.InDelta(t, 2.0/3.0, got.WinRate, 1e-9)
	assert.InDelta(t, 5.0, got.ProfitFactor, 1e-9)
	assert.Equal(t, 1, got.OpenPositions)
	assert.InDelta(t, 400.0, got.DailyPnL, 1e-9)
}

func TestCorrelation(t *testing.T) {
	up := []float64{0.01, 0.02, -0.01, 0.03, 0.01}
	down := []float64{-0.01, -0.02, 0.01, -0.03, -0.01}

	assert.InDelta(t, 1.0, Correlation(up, up), 1e-9)
	assert.InDelta(t, -1.0, Correlation(up, down), 1e-9)
	assert.Equal(t, 0.0, Correlation(up, nil))
	assert.Equal(t, 0.0, Correlation([]float64{0.01}, []float64{0.02}))
}

func TestCorrelationGateBlocksCrowdedTrades(t *testing.T) {
	history := func(drift float64) []domain.PricePoint {
		pts := make([]domain.PricePoint, 0, 50)
		price := 100.0
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				price *= 1 + drift
			} else {
				price *= 1 - drift/2
			}
			pts = append(pts, domain.PricePoint{Price: price})
		}
		return pts
	}

	cfg := Defaults()
	cfg.InitialBalance = 1_000_000
	cfg.MaxCorrelatedPositions = 1
	m := newTestManager(cfg)
	m.BindPositions(&stubPositions{open: []domain.Position{
		{Symbol: "A", EntryPrice: 100, Size: 1, PriceHistory: history(0.01)},
		{Symbol: "B", EntryPrice: 100, Size: 1, PriceHistory: history(0.01)},
	}})

	// B's returns move in lockstep with A's, so opening more exposure that
	// correlates with the book is denied.
	assert.False(t, m.CanOpenPosition("A", 0.01, 100))
}
