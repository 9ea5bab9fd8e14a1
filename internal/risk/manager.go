// Package risk implements the stateful gate that approves new exposure,
// sizes positions, and can force emergency liquidation.
package risk

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/avdimir/signalbot/internal/domain"
)

// correlationThreshold is the absolute pairwise return correlation above
// which two positions count as correlated exposure.
const correlationThreshold = 0.7

// PositionSource is the shared view of open positions the risk manager
// reads. The position manager provides it after construction.
type PositionSource interface {
	OpenPositions() []domain.Position
}

// Config carries the risk limits. Percentages are expressed in percent
// (MaxDrawdownPct=20 means 20%), exposure limits as fractions of balance
// (MaxPositionSizePct=0.05 means 5%).
type Config struct {
	InitialBalance         float64
	MaxDrawdownPct         float64
	MaxPositionSizePct     float64
	MaxTotalRiskPct        float64
	MaxCorrelatedPositions int
	PauseAfterLosses       int
	PauseDuration          time.Duration
	CorrelationWindow      int // return samples per correlation computation
}

// Defaults returns the standard limit set.
func Defaults() Config {
	return Config{
		InitialBalance:         10_000,
		MaxDrawdownPct:         20,
		MaxPositionSizePct:     0.05,
		MaxTotalRiskPct:        0.30,
		MaxCorrelatedPositions: 2,
		PauseAfterLosses:       3,
		PauseDuration:          300 * time.Second,
		CorrelationWindow:      100,
	}
}

// Manager is a state machine over {allowed, paused}. All balance and
// counter mutations happen under one mutex; the open-position view is
// shared with the position manager.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu                sync.Mutex
	positions         PositionSource
	currentBalance    float64
	peakBalance       float64
	tradeHistory      []domain.TradeResult
	consecutiveLosses int
	tradingAllowed    bool
	pausedUntil       time.Time
	dailyPnL          map[string]float64 // keyed by UTC date
	now               func() time.Time
}

// NewManager creates a risk manager in the allowed state.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.CorrelationWindow <= 0 {
		cfg.CorrelationWindow = 100
	}
	if cfg.PauseDuration <= 0 {
		cfg.PauseDuration = 300 * time.Second
	}
	return &Manager{
		cfg:            cfg,
		logger:         logger,
		currentBalance: cfg.InitialBalance,
		peakBalance:    cfg.InitialBalance,
		tradingAllowed: true,
		dailyPnL:       make(map[string]float64),
		now:            time.Now,
	}
}

// BindPositions attaches the shared open-position view. Must be called
// before the engine starts.
func (m *Manager) BindPositions(src PositionSource) {
	m.mu.Lock()
	m.positions = src
	m.mu.Unlock()
}

// SetTradingAllowed manually enables or disables new exposure.
func (m *Manager) SetTradingAllowed(allowed bool) {
	m.mu.Lock()
	m.tradingAllowed = allowed
	m.mu.Unlock()
}

// CanOpenPosition runs the ordered admission checks for a prospective
// position. The first failing check short-circuits; every denial is logged,
// never raised as an error.
func (m *Manager) CanOpenPosition(symbol string, size, price float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. Trading allowed and not paused.
	if !m.tradingAllowed {
		m.logger.Warn("risk: denied, trading disabled", slog.String("symbol", symbol))
		return false
	}
	if m.now().Before(m.pausedUntil) {
		m.logger.Warn("risk: denied, paused after losses",
			slog.String("symbol", symbol),
			slog.Time("paused_until", m.pausedUntil),
		)
		return false
	}

	// 2. Drawdown limit.
	dd := m.drawdownLocked()
	if dd >= m.cfg.MaxDrawdownPct {
		m.logger.Warn("risk: denied, drawdown limit",
			slog.String("symbol", symbol),
			slog.Float64("drawdown_pct", dd),
		)
		return false
	}

	// 3. Per-position size limit.
	notional := size * price
	if m.currentBalance <= 0 || notional/m.currentBalance > m.cfg.MaxPositionSizePct {
		m.logger.Warn("risk: denied, position size limit",
			slog.String("symbol", symbol),
			slog.Float64("notional", notional),
			slog.Float64("balance", m.currentBalance),
		)
		return false
	}

	// 4. Total exposure limit.
	exposure := m.exposureLocked()
	if (exposure+notional)/m.currentBalance > m.cfg.MaxTotalRiskPct {
		m.logger.Warn("risk: denied, total exposure limit",
			slog.String("symbol", symbol),
			slog.Float64("exposure", exposure),
			slog.Float64("notional", notional),
		)
		return false
	}

	// 5. Correlation gate.
	if n := m.correlatedCountLocked(symbol); n >= m.cfg.MaxCorrelatedPositions {
		m.logger.Warn("risk: denied, correlated positions limit",
			slog.String("symbol", symbol),
			slog.Int("correlated", n),
		)
		return false
	}

	return true
}

// AdjustPositionSize scales baseSize by the drawdown, correlation, and
// performance factors, clamped to [0.2x, 1.5x] of the base.
func (m *Manager) AdjustPositionSize(baseSize float64, symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	drawdownFactor := 1.0
	if m.cfg.MaxDrawdownPct > 0 {
		drawdownFactor = math.Max(0, 1-m.drawdownLocked()/m.cfg.MaxDrawdownPct)
	}

	correlationPenalty := 1.0
	if m.positions != nil {
		for _, pos := range m.positions.OpenPositions() {
			if pos.Symbol == symbol {
				continue
			}
			corr := math.Abs(m.correlationLocked(symbol, pos))
			if penalty := 1 - corr; penalty < correlationPenalty {
				correlationPenalty = penalty
			}
		}
	}

	performanceFactor := 1.0
	if pf, ok := m.profitFactorLocked(); ok {
		performanceFactor = math.Min(1, pf/2)
	}

	adjusted := baseSize * drawdownFactor * correlationPenalty * performanceFactor
	return math.Min(math.Max(adjusted, 0.2*baseSize), 1.5*baseSize)
}

// ShouldEmergencyClose reports whether the portfolio breached a hard limit:
// drawdown at 110% of the configured maximum, today's realized loss above
// 10% of balance, or exposure above 120% of the total risk budget. The
// monitoring loop consults this independently of any strategy exit.
func (m *Manager) ShouldEmergencyClose() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.drawdownLocked() >= 1.1*m.cfg.MaxDrawdownPct {
		m.logger.Error("risk: emergency, drawdown breach",
			slog.Float64("drawdown_pct", m.drawdownLocked()),
		)
		return true
	}
	if today := m.dailyPnL[m.dateKey(m.now())]; today < -0.10*m.currentBalance {
		m.logger.Error("risk: emergency, daily loss breach",
			slog.Float64("daily_pnl", today),
		)
		return true
	}
	if m.exposureLocked() > 1.2*m.cfg.MaxTotalRiskPct*m.currentBalance {
		m.logger.Error("risk: emergency, exposure breach",
			slog.Float64("exposure", m.exposureLocked()),
		)
		return true
	}
	return false
}

// OnTradeClosed feeds a terminal trade back into the risk state: balance,
// peak, history, consecutive-loss counter, pause transition, and the
// current day's PnL bucket.
func (m *Manager) OnTradeClosed(trade domain.TradeResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.currentBalance += trade.PnL
	if m.currentBalance > m.peakBalance {
		m.peakBalance = m.currentBalance
	}
	m.tradeHistory = append(m.tradeHistory, trade)
	m.dailyPnL[m.dateKey(m.now())] += trade.PnL

	if trade.PnL < 0 {
		m.consecutiveLosses++
		if m.cfg.PauseAfterLosses > 0 && m.consecutiveLosses >= m.cfg.PauseAfterLosses {
			m.pausedUntil = m.now().Add(m.cfg.PauseDuration)
			m.logger.Warn("risk: pausing after consecutive losses",
				slog.Int("losses", m.consecutiveLosses),
				slog.Time("paused_until", m.pausedUntil),
			)
		}
	} else {
		m.consecutiveLosses = 0
	}
}

// IsTradingAllowed reports whether new exposure is currently permitted.
func (m *Manager) IsTradingAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tradingAllowed && !m.now().Before(m.pausedUntil)
}

// CurrentBalance returns the tracked account balance.
func (m *Manager) CurrentBalance() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentBalance
}

// SyncBalance replaces the tracked balance with a venue-reported one and
// lifts the peak when the account grew out-of-band.
func (m *Manager) SyncBalance(balance float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if balance <= 0 {
		return
	}
	m.currentBalance = balance
	if balance > m.peakBalance {
		m.peakBalance = balance
	}
}

// CalculateDrawdown returns the percent decline from the peak balance.
func (m *Manager) CalculateDrawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownLocked()
}

// Metrics derives a point-in-time risk snapshot from positions and history.
func (m *Manager) Metrics() domain.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := domain.RiskMetrics{
		TotalExposure:     m.exposureLocked(),
		CurrentDrawdown:   m.drawdownLocked(),
		DailyPnL:          m.dailyPnL[m.dateKey(m.now())],
		ConsecutiveLosses: m.consecutiveLosses,
		TradesTotal:       len(m.tradeHistory),
	}

	if m.positions != nil {
		open := m.positions.OpenPositions()
		metrics.OpenPositions = len(open)
		metrics.CorrelationMatrix = m.correlationMatrixLocked(open)
	}

	wins := 0
	var grossProfit, grossLoss float64
	pnls := make([]float64, 0, len(m.tradeHistory))
	for _, t := range m.tradeHistory {
		pnls = append(pnls, t.PnL)
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	if n := len(m.tradeHistory); n > 0 {
		metrics.WinRate = float64(wins) / float64(n)
	}
	if grossLoss > 0 {
		metrics.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		metrics.ProfitFactor = math.Inf(1)
	}
	metrics.SharpeRatio = sharpe(pnls)
	return metrics
}

// drawdownLocked computes (peak-current)/peak in percent. The caller must
// hold m.mu.
func (m *Manager) drawdownLocked() float64 {
	if m.peakBalance <= 0 {
		return 0
	}
	return (m.peakBalance - m.currentBalance) / m.peakBalance * 100
}

// exposureLocked sums open-position notionals. The caller must hold m.mu.
func (m *Manager) exposureLocked() float64 {
	if m.positions == nil {
		return 0
	}
	var total float64
	for _, pos := range m.positions.OpenPositions() {
		total += pos.Notional()
	}
	return total
}

// correlatedCountLocked counts open positions whose return correlation with
// symbol exceeds the threshold. The caller must hold m.mu.
func (m *Manager) correlatedCountLocked(symbol string) int {
	if m.positions == nil {
		return 0
	}
	count := 0
	for _, pos := range m.positions.OpenPositions() {
		if pos.Symbol == symbol {
			continue
		}
		if math.Abs(m.correlationLocked(symbol, pos)) > correlationThreshold {
			count++
		}
	}
	return count
}

// correlationLocked computes the pairwise return correlation between the
// candidate symbol and an open position over the configured window.
// Insufficient history correlates as 0 (neutral, not a blocker). The caller
// must hold m.mu.
func (m *Manager) correlationLocked(symbol string, other domain.Position) float64 {
	var symHistory []domain.PricePoint
	for _, pos := range m.positions.OpenPositions() {
		if pos.Symbol == symbol {
			symHistory = pos.PriceHistory
			break
		}
	}
	return Correlation(
		returns(symHistory, m.cfg.CorrelationWindow),
		returns(other.PriceHistory, m.cfg.CorrelationWindow),
	)
}

// correlationMatrixLocked builds the symbol-by-symbol correlation matrix
// over the open positions. The caller must hold m.mu.
func (m *Manager) correlationMatrixLocked(open []domain.Position) map[string]map[string]float64 {
	if len(open) < 2 {
		return nil
	}
	matrix := make(map[string]map[string]float64, len(open))
	for _, a := range open {
		row := make(map[string]float64, len(open)-1)
		for _, b := range open {
			if a.Symbol == b.Symbol {
				continue
			}
			row[b.Symbol] = Correlation(
				returns(a.PriceHistory, m.cfg.CorrelationWindow),
				returns(b.PriceHistory, m.cfg.CorrelationWindow),
			)
		}
		matrix[a.Symbol] = row
	}
	return matrix
}

// profitFactorLocked returns gross profit over gross loss, and false when
// there is no history to judge. The caller must hold m.mu.
func (m *Manager) profitFactorLocked() (float64, bool) {
	if len(m.tradeHistory) == 0 {
		return 0, false
	}
	var grossProfit, grossLoss float64
	for _, t := range m.tradeHistory {
		if t.PnL > 0 {
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	if grossLoss == 0 {
		return 2, true // no losses yet, full performance factor
	}
	return grossProfit / grossLoss, true
}

func (m *Manager) dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// sharpe returns the annualized mean/stddev ratio of the PnL series, 0 with
// fewer than two samples.
func sharpe(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}
	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		d := p - mean
		variance += d * d
	}
	variance /= float64(len(pnls))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(252)
}
