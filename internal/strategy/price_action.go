package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdimir/signalbot/internal/domain"
)

// PriceActionConfig tunes the impulse-retracement strategy.
type PriceActionConfig struct {
	Symbols        []string
	MinImpulsePct  float64       // min move from the window start that counts as an impulse
	VolumeRatio    float64       // min newest volume vs the prior rolling average
	RetracementMin float64       // pullback fraction opening the entry zone
	RetracementMax float64       // pullback fraction closing the entry zone
	Window         time.Duration // impulse lookback
	MaxHoldTime    time.Duration // positions older than this are closed
	TakeProfitPct  float64
	StopLossPct    float64
	BaseSize       float64
}

// PriceActionDefaults returns the standard parameter set.
func PriceActionDefaults() PriceActionConfig {
	return PriceActionConfig{
		MinImpulsePct:  0.3,
		VolumeRatio:    2.0,
		RetracementMin: 0.3,
		RetracementMax: 0.5,
		Window:         10 * time.Second,
		MaxHoldTime:    60 * time.Second,
		TakeProfitPct:  0.3,
		StopLossPct:    0.15,
		BaseSize:       0.01,
	}
}

// PriceAction trades impulse continuation: a sharp volume-backed move inside
// the lookback window, followed by a partial pullback toward where the move
// started. Entries fire only while the pullback sits inside the configured
// retracement band, in the direction of the original impulse.
type PriceAction struct {
	cfg     PriceActionConfig
	tracker *MarketTracker

	mu    sync.RWMutex
	books map[string]*domain.OrderBook

	impulsePct      float64
	baselineImpulse float64
}

// NewPriceAction creates the strategy and snapshots its threshold baseline.
func NewPriceAction(cfg PriceActionConfig) *PriceAction {
	if cfg.MinImpulsePct <= 0 {
		cfg.MinImpulsePct = 0.3
	}
	if cfg.VolumeRatio <= 1 {
		cfg.VolumeRatio = 2.0
	}
	if cfg.RetracementMin <= 0 || cfg.RetracementMax <= cfg.RetracementMin {
		cfg.RetracementMin = 0.3
		cfg.RetracementMax = 0.5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.MaxHoldTime <= 0 {
		cfg.MaxHoldTime = 60 * time.Second
	}
	return &PriceAction{
		cfg:             cfg,
		tracker:         NewMarketTracker(cfg.Window),
		books:           make(map[string]*domain.OrderBook),
		impulsePct:      cfg.MinImpulsePct,
		baselineImpulse: cfg.MinImpulsePct,
	}
}

// Name implements Strategy.
func (s *PriceAction) Name() string { return "price_action" }

// Symbols implements Strategy.
func (s *PriceAction) Symbols() []string { return s.cfg.Symbols }

// OnOrderBookUpdate records the latest book plus a mid-price sample. Resting
// bid volume on the top levels stands in for traded volume.
func (s *PriceAction) OnOrderBookUpdate(symbol string, book *domain.OrderBook) {
	s.mu.Lock()
	s.books[symbol] = book
	s.mu.Unlock()

	if mid := book.MidPrice(); mid > 0 {
		bids, _ := book.Levels()
		s.tracker.Track(symbol, mid, levelVolume(bids, 5), book.Timestamp())
	}
}

// EvaluateEntry fires when the window holds a volume-backed impulse and the
// current price has retraced into the entry band.
func (s *PriceAction) EvaluateEntry(symbol string) *domain.Signal {
	s.mu.RLock()
	book := s.books[symbol]
	impulsePct := s.impulsePct
	s.mu.RUnlock()
	if book == nil || !book.IsValid() {
		return nil
	}

	history := s.tracker.History(symbol)
	if len(history) < 3 {
		return nil
	}
	start := history[0].Price
	if start <= 0 {
		return nil
	}

	// 1. Impulse: the window extreme must clear the threshold from the start.
	high, low := start, start
	for _, o := range history {
		if o.Price > high {
			high = o.Price
		}
		if o.Price < low {
			low = o.Price
		}
	}
	upPct := (high - start) / start * 100
	downPct := (start - low) / start * 100

	var side domain.SignalSide
	var extreme float64
	switch {
	case upPct >= impulsePct && upPct >= downPct:
		side, extreme = domain.SignalSideLong, high
	case downPct >= impulsePct:
		side, extreme = domain.SignalSideShort, low
	default:
		return nil
	}

	// 2. Volume confirmation. The average excludes the newest sample so the
	// spike itself does not inflate the baseline.
	var avgVol float64
	for _, o := range history[:len(history)-1] {
		avgVol += o.Volume
	}
	avgVol /= float64(len(history) - 1)
	if avgVol == 0 {
		return nil
	}
	latest := history[len(history)-1]
	if latest.Volume/avgVol < s.cfg.VolumeRatio {
		return nil
	}

	// 3. Retracement band: the pullback from the extreme, as a fraction of
	// the impulse move.
	move := extreme - start
	if move == 0 {
		return nil
	}
	retr := (extreme - latest.Price) / move
	if retr < s.cfg.RetracementMin || retr > s.cfg.RetracementMax {
		return nil
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
		Reason:     fmt.Sprintf("impulse %.2f%% retraced %.0f%%", move/start*100, retr*100),
		CreatedAt:  time.Now().UTC(),
	}
}

// EvaluateExit closes positions held past MaxHoldTime; impulse entries are
// only valid while the move is fresh.
func (s *PriceAction) EvaluateExit(pos *domain.Position) bool {
	return time.Since(pos.OpenedAt) >= s.cfg.MaxHoldTime
}

// OnTradeClosed tightens the impulse threshold after a loss and relaxes it
// after a win, never below the baseline.
func (s *PriceAction) OnTradeClosed(wasProfitable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wasProfitable {
		s.impulsePct *= 0.95
		if s.impulsePct < s.baselineImpulse {
			s.impulsePct = s.baselineImpulse
		}
	} else {
		s.impulsePct *= 1.1
	}
}

var _ Strategy = (*PriceAction)(nil)
