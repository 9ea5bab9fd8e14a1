package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdimir/signalbot/internal/domain"
)

// PairSpreadConfig tunes the paired-symbol spread strategy.
type PairSpreadConfig struct {
	Symbol        string // traded leg
	RefSymbol     string // reference leg, observed only
	Window        time.Duration
	MinSamples    int
	EntryZ        float64 // z-score that opens a position on Symbol
	ExitZ         float64 // z-score at which the dislocation is considered closed
	VolumeTiers   [2]float64 // depth ratios marking medium and high confidence
	TakeProfitPct float64
	StopLossPct   float64
	BaseSize      float64
}

// PairSpreadDefaults returns the standard parameter set.
func PairSpreadDefaults() PairSpreadConfig {
	return PairSpreadConfig{
		Window:        15 * time.Minute,
		MinSamples:    30,
		EntryZ:        2.0,
		ExitZ:         0.5,
		VolumeTiers:   [2]float64{1.2, 1.8},
		TakeProfitPct: 0.6,
		StopLossPct:   0.4,
		BaseSize:      0.01,
	}
}

// PairSpread trades mean reversion of the price spread between two
// correlated symbols. When the traded leg dislocates from the reference leg
// by more than EntryZ standard deviations, it enters against the
// dislocation. Depth on the entry side grades the signal's confidence,
// which in turn scales the exit targets.
type PairSpread struct {
	cfg PairSpreadConfig

	mu      sync.RWMutex
	books   map[string]*domain.OrderBook
	spreads []Observation // spread series, reusing the price field

	entryZ    float64
	baselineZ float64
}

// NewPairSpread creates the strategy and snapshots its threshold baseline.
func NewPairSpread(cfg PairSpreadConfig) *PairSpread {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 30
	}
	if cfg.EntryZ <= 0 {
		cfg.EntryZ = 2.0
	}
	return &PairSpread{
		cfg:       cfg,
		books:     make(map[string]*domain.OrderBook),
		entryZ:    cfg.EntryZ,
		baselineZ: cfg.EntryZ,
	}
}

// Name implements Strategy.
func (s *PairSpread) Name() string { return "pair_spread" }

// Symbols implements Strategy.
func (s *PairSpread) Symbols() []string {
	return []string{s.cfg.Symbol, s.cfg.RefSymbol}
}

// OnOrderBookUpdate records the book and, when both legs have quotes,
// appends a spread sample.
func (s *PairSpread) OnOrderBookUpdate(symbol string, book *domain.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.books[symbol] = book
	traded := s.books[s.cfg.Symbol]
	ref := s.books[s.cfg.RefSymbol]
	if traded == nil || ref == nil {
		return
	}
	tm, rm := traded.MidPrice(), ref.MidPrice()
	if tm <= 0 || rm <= 0 {
		return
	}

	now := book.Timestamp()
	s.spreads = append(s.spreads, Observation{Price: tm - rm, Time: now})
	cutoff := now.Add(-s.cfg.Window)
	i := 0
	for i < len(s.spreads) && s.spreads[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.spreads = s.spreads[i:]
	}
}

// EvaluateEntry enters against a spread dislocation beyond the entry
// z-score. Only the traded leg produces signals.
func (s *PairSpread) EvaluateEntry(symbol string) *domain.Signal {
	if symbol != s.cfg.Symbol {
		return nil
	}

	s.mu.RLock()
	book := s.books[s.cfg.Symbol]
	entryZ := s.entryZ
	z, ok := s.zScoreLocked()
	s.mu.RUnlock()
	if !ok || book == nil || !book.IsValid() {
		return nil
	}
	if math.Abs(z) < entryZ {
		return nil
	}

	// Spread above its mean: traded leg is rich, fade it short; below:
	// traded leg is cheap, buy it.
	side := domain.SignalSideLong
	if z > 0 {
		side = domain.SignalSideShort
	}

	conf := s.confidence(book, side)
	entry := book.WeightedMidPrice()
	tp, sl := exitTargets(entry, side, s.cfg.TakeProfitPct, s.cfg.StopLossPct)
	tp, sl = ScaleTargets(entry, tp, sl, conf)
	return &domain.Signal{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		TakeProfit: tp,
		StopLoss:   sl,
		Size:       s.cfg.BaseSize,
		Strategy:   s.Name(),
		Confidence: conf,
		Reason:     fmt.Sprintf("spread z=%.2f vs %s", z, s.cfg.RefSymbol),
		CreatedAt:  time.Now().UTC(),
	}
}

// EvaluateExit closes once the dislocation has reverted inside ExitZ.
func (s *PairSpread) EvaluateExit(pos *domain.Position) bool {
	if pos.Symbol != s.cfg.Symbol {
		return false
	}
	s.mu.RLock()
	z, ok := s.zScoreLocked()
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return math.Abs(z) <= s.cfg.ExitZ
}

// OnTradeClosed tightens the entry z-score after a loss and relaxes it
// after a win, never below the baseline.
func (s *PairSpread) OnTradeClosed(wasProfitable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wasProfitable {
		s.entryZ *= 0.95
		if s.entryZ < s.baselineZ {
			s.entryZ = s.baselineZ
		}
	} else {
		s.entryZ *= 1.1
	}
}

// zScoreLocked computes the current spread z-score. The caller must hold
// s.mu at least for reading.
func (s *PairSpread) zScoreLocked() (float64, bool) {
	if len(s.spreads) < s.cfg.MinSamples {
		return 0, false
	}
	var sum float64
	for _, o := range s.spreads {
		sum += o.Price
	}
	mean := sum / float64(len(s.spreads))

	var variance float64
	for _, o := range s.spreads {
		d := o.Price - mean
		variance += d * d
	}
	variance /= float64(len(s.spreads))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0, false
	}
	current := s.spreads[len(s.spreads)-1].Price
	return (current - mean) / std, true
}

// confidence grades the entry by how much depth rests on the entry side
// relative to the opposing side.
func (s *PairSpread) confidence(book *domain.OrderBook, side domain.SignalSide) domain.Confidence {
	bids, asks := book.Levels()
	bidVol := levelVolume(bids, 5)
	askVol := levelVolume(asks, 5)
	if bidVol == 0 || askVol == 0 {
		return domain.ConfidenceLow
	}

	ratio := bidVol / askVol
	if side == domain.SignalSideShort {
		ratio = askVol / bidVol
	}
	switch {
	case ratio >= s.cfg.VolumeTiers[1]:
		return domain.ConfidenceHigh
	case ratio >= s.cfg.VolumeTiers[0]:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

var _ Strategy = (*PairSpread)(nil)
