package strategy

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdimir/signalbot/internal/domain"
)

// VolumeImpulseConfig tunes the volume impulse strategy.
type VolumeImpulseConfig struct {
	Symbols           []string
	SpikeRatio        float64       // min volume vs rolling average
	Window            time.Duration // consolidation lookback
	MinPriceChangePct float64       // min move confirming direction
	TakeProfitPct     float64
	StopLossPct       float64
	BaseSize          float64
}

// VolumeImpulseDefaults returns the standard parameter set.
func VolumeImpulseDefaults() VolumeImpulseConfig {
	return VolumeImpulseConfig{
		SpikeRatio:        2.5,
		Window:            10 * time.Minute,
		MinPriceChangePct: 0.2,
		TakeProfitPct:     0.8,
		StopLossPct:       0.4,
		BaseSize:          0.01,
	}
}

// VolumeImpulse trades breakouts out of consolidation: a volume spike well
// above the rolling average combined with a directional price move.
type VolumeImpulse struct {
	cfg     VolumeImpulseConfig
	tracker *MarketTracker

	mu    sync.RWMutex
	books map[string]*domain.OrderBook

	spikeRatio    float64
	baselineRatio float64
}

// NewVolumeImpulse creates the strategy and snapshots its threshold baseline.
func NewVolumeImpulse(cfg VolumeImpulseConfig) *VolumeImpulse {
	if cfg.SpikeRatio <= 1 {
		cfg.SpikeRatio = 2.5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.MinPriceChangePct <= 0 {
		cfg.MinPriceChangePct = 0.2
	}
	return &VolumeImpulse{
		cfg:           cfg,
		tracker:       NewMarketTracker(cfg.Window),
		books:         make(map[string]*domain.OrderBook),
		spikeRatio:    cfg.SpikeRatio,
		baselineRatio: cfg.SpikeRatio,
	}
}

// Name implements Strategy.
func (s *VolumeImpulse) Name() string { return "volume_impulse" }

// Symbols implements Strategy.
func (s *VolumeImpulse) Symbols() []string { return s.cfg.Symbols }

// OnOrderBookUpdate records the latest book plus a mid-price/depth sample.
// Resting quote depth stands in for traded volume at this sampling rate.
func (s *VolumeImpulse) OnOrderBookUpdate(symbol string, book *domain.OrderBook) {
	s.mu.Lock()
	s.books[symbol] = book
	s.mu.Unlock()

	if mid := book.MidPrice(); mid > 0 {
		s.tracker.Track(symbol, mid, book.MarketDepth(), book.Timestamp())
	}
}

// EvaluateEntry fires when the newest volume sample spikes above the rolling
// average while price breaks out of the consolidation range.
func (s *VolumeImpulse) EvaluateEntry(symbol string) *domain.Signal {
	s.mu.RLock()
	book := s.books[symbol]
	spikeRatio := s.spikeRatio
	s.mu.RUnlock()
	if book == nil || !book.IsValid() {
		return nil
	}

	history := s.tracker.History(symbol)
	if len(history) < 3 {
		return nil
	}

	// Average volume excludes the newest sample so the spike itself does
	// not inflate the baseline.
	var avgVol float64
	for _, o := range history[:len(history)-1] {
		avgVol += o.Volume
	}
	avgVol /= float64(len(history) - 1)
	if avgVol == 0 {
		return nil
	}

	latest := history[len(history)-1]
	if latest.Volume/avgVol < spikeRatio {
		return nil
	}

	change := s.tracker.PriceChangePct(symbol)
	var side domain.SignalSide
	switch {
	case change >= s.cfg.MinPriceChangePct:
		side = domain.SignalSideLong
	case change <= -s.cfg.MinPriceChangePct:
		side = domain.SignalSideShort
	default:
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
		Reason:     fmt.Sprintf("volume spike %.2fx avg, move %.2f%%", latest.Volume/avgVol, change),
		CreatedAt:  time.Now().UTC(),
	}
}

// EvaluateExit closes when momentum turns against the position.
func (s *VolumeImpulse) EvaluateExit(pos *domain.Position) bool {
	change := s.tracker.PriceChangePct(pos.Symbol)
	if pos.Side == domain.SignalSideLong {
		return change <= -s.cfg.MinPriceChangePct
	}
	return change >= s.cfg.MinPriceChangePct
}

// OnTradeClosed tightens the spike threshold after a loss and relaxes it
// after a win, never below the baseline.
func (s *VolumeImpulse) OnTradeClosed(wasProfitable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wasProfitable {
		s.spikeRatio *= 0.95
		if s.spikeRatio < s.baselineRatio {
			s.spikeRatio = s.baselineRatio
		}
	} else {
		s.spikeRatio *= 1.1
	}
}

var _ Strategy = (*VolumeImpulse)(nil)
