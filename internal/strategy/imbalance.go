package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdimir/signalbot/internal/domain"
)

// ImbalanceConfig tunes the order-book imbalance strategy.
type ImbalanceConfig struct {
	Symbols          []string
	ImbalanceRatio   float64       // min heavy-side/light-side volume ratio
	Levels           int           // ladder depth considered
	LargeOrderSize   float64       // single-level size that confirms intent
	MaxVolatilityPct float64       // reject entries in choppy markets
	VolatilityWindow time.Duration // lookback for the volatility gate
	MinDepthQuote    float64       // min quote-currency depth on both sides
	MaxSpreadPct     float64
	TakeProfitPct    float64
	StopLossPct      float64
	BaseSize         float64
}

// ImbalanceDefaults returns the standard parameter set.
func ImbalanceDefaults() ImbalanceConfig {
	return ImbalanceConfig{
		ImbalanceRatio:   3.0,
		Levels:           5,
		LargeOrderSize:   0,
		MaxVolatilityPct: 2.0,
		VolatilityWindow: 5 * time.Minute,
		MinDepthQuote:    0,
		MaxSpreadPct:     0.5,
		TakeProfitPct:    0.6,
		StopLossPct:      0.3,
		BaseSize:         0.01,
	}
}

// Imbalance trades persistent one-sided pressure in the book: when resting
// volume on one side outweighs the other by a configured ratio and the
// market is not too volatile, it enters in the direction of the pressure.
type Imbalance struct {
	cfg     ImbalanceConfig
	tracker *MarketTracker

	mu    sync.RWMutex
	books map[string]*domain.OrderBook

	// ratio is the live entry threshold; it tightens after losses and
	// relaxes after wins, never below the construction-time baseline.
	ratio         float64
	baselineRatio float64
}

// NewImbalance creates the strategy and snapshots its threshold baseline.
func NewImbalance(cfg ImbalanceConfig) *Imbalance {
	if cfg.ImbalanceRatio <= 1 {
		cfg.ImbalanceRatio = 3.0
	}
	if cfg.Levels <= 0 {
		cfg.Levels = 5
	}
	if cfg.VolatilityWindow <= 0 {
		cfg.VolatilityWindow = 5 * time.Minute
	}
	return &Imbalance{
		cfg:           cfg,
		tracker:       NewMarketTracker(cfg.VolatilityWindow),
		books:         make(map[string]*domain.OrderBook),
		ratio:         cfg.ImbalanceRatio,
		baselineRatio: cfg.ImbalanceRatio,
	}
}

// Name implements Strategy.
func (s *Imbalance) Name() string { return "imbalance" }

// Symbols implements Strategy.
func (s *Imbalance) Symbols() []string { return s.cfg.Symbols }

// OnOrderBookUpdate records the latest book and a mid-price observation.
func (s *Imbalance) OnOrderBookUpdate(symbol string, book *domain.OrderBook) {
	s.mu.Lock()
	s.books[symbol] = book
	s.mu.Unlock()

	if mid := book.MidPrice(); mid > 0 {
		s.tracker.Track(symbol, mid, book.MarketDepth(), book.Timestamp())
	}
}

// EvaluateEntry checks the gates in order and returns a signal when the
// imbalance threshold is crossed.
func (s *Imbalance) EvaluateEntry(symbol string) *domain.Signal {
	s.mu.RLock()
	book := s.books[symbol]
	ratio := s.ratio
	s.mu.RUnlock()
	if book == nil || !book.IsValid() {
		return nil
	}

	mid := book.MidPrice()
	if mid <= 0 {
		return nil
	}

	// 1. Spread gate.
	if s.cfg.MaxSpreadPct > 0 && book.SpreadPct() > s.cfg.MaxSpreadPct {
		return nil
	}

	// 2. Liquidity gate.
	if s.cfg.MinDepthQuote > 0 && book.MarketDepth() < s.cfg.MinDepthQuote {
		return nil
	}

	// 3. Volatility gate.
	if s.cfg.MaxVolatilityPct > 0 && s.tracker.VolatilityPct(symbol) > s.cfg.MaxVolatilityPct {
		return nil
	}

	// 4. Imbalance threshold on the top levels.
	bids, asks := book.Levels()
	bidVol := levelVolume(bids, s.cfg.Levels)
	askVol := levelVolume(asks, s.cfg.Levels)
	if bidVol == 0 || askVol == 0 {
		return nil
	}

	var side domain.SignalSide
	switch {
	case bidVol/askVol >= ratio:
		side = domain.SignalSideLong
	case askVol/bidVol >= ratio:
		side = domain.SignalSideShort
	default:
		return nil
	}

	// 5. Large-order confirmation on the heavy side, when configured.
	if s.cfg.LargeOrderSize > 0 {
		heavy := bids
		if side == domain.SignalSideShort {
			heavy = asks
		}
		if !hasLargeOrder(heavy, s.cfg.Levels, s.cfg.LargeOrderSize) {
			return nil
		}
	}

	entry := book.WeightedMidPrice()
	tp, sl := exitTargets(entry, side, s.cfg.TakeProfitPct, s.cfg.StopLossPct)
	return &domain.Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		TakeProfit: tp,
		StopLoss:   sl,
		Size:       s.cfg.BaseSize,
		Strategy:   s.Name(),
		Confidence: domain.ConfidenceMedium,
		Reason:     fmt.Sprintf("imbalance bid=%.4f ask=%.4f ratio>=%.2f", bidVol, askVol, ratio),
		CreatedAt:  time.Now().UTC(),
	}
}

// EvaluateExit closes when the book pressure flips to the opposite side.
func (s *Imbalance) EvaluateExit(pos *domain.Position) bool {
	s.mu.RLock()
	book := s.books[pos.Symbol]
	ratio := s.ratio
	s.mu.RUnlock()
	if book == nil || !book.IsValid() {
		return false
	}

	bids, asks := book.Levels()
	bidVol := levelVolume(bids, s.cfg.Levels)
	askVol := levelVolume(asks, s.cfg.Levels)
	if bidVol == 0 || askVol == 0 {
		return false
	}

	if pos.Side == domain.SignalSideLong {
		return askVol/bidVol >= ratio
	}
	return bidVol/askVol >= ratio
}

// OnTradeClosed tightens the entry ratio after a loss and relaxes it by a
// bounded decay after a win, never below the baseline.
func (s *Imbalance) OnTradeClosed(wasProfitable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wasProfitable {
		s.ratio *= 0.95
		if s.ratio < s.baselineRatio {
			s.ratio = s.baselineRatio
		}
	} else {
		s.ratio *= 1.1
	}
}

func levelVolume(levels []domain.Level, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	var vol float64
	for _, l := range levels[:n] {
		vol += l.Size
	}
	return vol
}

func hasLargeOrder(levels []domain.Level, n int, threshold float64) bool {
	if n > len(levels) {
		n = len(levels)
	}
	for _, l := range levels[:n] {
		if l.Size >= threshold {
			return true
		}
	}
	return false
}

func exitTargets(entry float64, side domain.SignalSide, tpPct, slPct float64) (tp, sl float64) {
	if side == domain.SignalSideShort {
		return entry * (1 - tpPct/100), entry * (1 + slPct/100)
	}
	return entry * (1 + tpPct/100), entry * (1 - slPct/100)
}

var _ Strategy = (*Imbalance)(nil)
