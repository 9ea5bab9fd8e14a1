package strategy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdimir/signalbot/internal/domain"
)

// confirmationWindow bounds how long a lone sub-strategy signal is held
// waiting for a second sub-strategy to agree before it is dropped.
const confirmationWindow = 15 * time.Second

// pendingSignal is a memoized single-strategy signal awaiting confirmation.
type pendingSignal struct {
	signal    *domain.Signal
	expiresAt time.Time
}

// Composite fuses N sub-strategies. A signal is emitted only when enough
// sub-strategies agree on the side; the fused entry price is the more
// conservative of the sub-signals and the exit targets are scaled by a
// confidence tier derived from the strength of the agreement. A lone signal
// is memoized and promoted to high confidence if a second sub-strategy
// agrees within the confirmation window.
type Composite struct {
	name   string
	subs   []Strategy
	quorum int // sub-strategies that must agree for an immediate emit

	mu      sync.Mutex
	pending map[string]pendingSignal // keyed by symbol
}

// NewComposite builds a fusion strategy over the given sub-strategies.
// A quorum below 2 defaults to a majority.
func NewComposite(name string, quorum int, subs ...Strategy) *Composite {
	if quorum < 2 {
		quorum = len(subs)/2 + 1
		if quorum < 2 {
			quorum = 2
		}
	}
	return &Composite{
		name:    name,
		subs:    subs,
		quorum:  quorum,
		pending: make(map[string]pendingSignal),
	}
}

// Name implements Strategy.
func (c *Composite) Name() string { return c.name }

// Symbols is the union of the sub-strategies' symbols.
func (c *Composite) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, sub := range c.subs {
		for _, sym := range sub.Symbols() {
			if _, ok := seen[sym]; ok {
				continue
			}
			seen[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}

// OnOrderBookUpdate fans the update out to every sub-strategy.
func (c *Composite) OnOrderBookUpdate(symbol string, book *domain.OrderBook) {
	for _, sub := range c.subs {
		sub.OnOrderBookUpdate(symbol, book)
	}
}

// EvaluateEntry collects sub-signals for the symbol and applies the fusion
// policy: quorum agreement emits immediately; a lone signal is held in the
// pending table for the confirmation window and promoted when a second
// sub-strategy agrees in time.
func (c *Composite) EvaluateEntry(symbol string) *domain.Signal {
	now := time.Now().UTC()

	var candidates []*domain.Signal
	for _, sub := range c.subs {
		if sig := sub.EvaluateEntry(symbol); sig != nil {
			candidates = append(candidates, sig)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(now)

	if len(candidates) == 0 {
		return nil
	}

	// Split by side; fusion only considers the dominant side.
	longs, shorts := splitBySide(candidates)
	agreed := longs
	if len(shorts) > len(longs) {
		agreed = shorts
	}

	if len(agreed) >= c.quorum {
		delete(c.pending, symbol)
		return c.fuse(agreed, now)
	}

	if len(agreed) == 1 {
		lone := agreed[0]
		if held, ok := c.pending[symbol]; ok &&
			held.signal.Side == lone.Side &&
			held.signal.Strategy != lone.Strategy {
			// A second sub-strategy confirmed the held signal in-window;
			// promotion yields a high-confidence fused signal.
			delete(c.pending, symbol)
			return c.fuse([]*domain.Signal{held.signal, lone}, now)
		}
		c.pending[symbol] = pendingSignal{
			signal:    lone,
			expiresAt: now.Add(confirmationWindow),
		}
	}
	return nil
}

// EvaluateExit closes when any sub-strategy wants out.
func (c *Composite) EvaluateExit(pos *domain.Position) bool {
	for _, sub := range c.subs {
		if sub.EvaluateExit(pos) {
			return true
		}
	}
	return false
}

// OnTradeClosed forwards the outcome to every sub-strategy so each adapts
// its own thresholds.
func (c *Composite) OnTradeClosed(wasProfitable bool) {
	for _, sub := range c.subs {
		sub.OnTradeClosed(wasProfitable)
	}
}

// fuse combines agreeing sub-signals into one signal. The entry price is
// the more conservative of the candidates (max for longs, min for shorts),
// the size is the smallest proposed, and the exit targets are rebuilt from
// the fused entry then scaled by the confidence tier.
func (c *Composite) fuse(agreed []*domain.Signal, now time.Time) *domain.Signal {
	side := agreed[0].Side
	entry := agreed[0].EntryPrice
	size := agreed[0].Size
	tpDist := distance(agreed[0].EntryPrice, agreed[0].TakeProfit)
	slDist := distance(agreed[0].EntryPrice, agreed[0].StopLoss)
	names := make([]string, 0, len(agreed))
	for _, sig := range agreed {
		names = append(names, sig.Strategy)
		if side == domain.SignalSideLong && sig.EntryPrice > entry {
			entry = sig.EntryPrice
		}
		if side == domain.SignalSideShort && sig.EntryPrice < entry {
			entry = sig.EntryPrice
		}
		if sig.Size < size {
			size = sig.Size
		}
		if d := distance(sig.EntryPrice, sig.TakeProfit); d < tpDist {
			tpDist = d
		}
		if d := distance(sig.EntryPrice, sig.StopLoss); d < slDist {
			slDist = d
		}
	}

	conf := confidenceForAgreement(len(agreed), len(c.subs))
	tp, sl := rebuildTargets(entry, side, tpDist, slDist)
	tp, sl = ScaleTargets(entry, tp, sl, conf)

	return &domain.Signal{
		ID:         uuid.NewString(),
		Symbol:     agreed[0].Symbol,
		Side:       side,
		EntryPrice: entry,
		TakeProfit: tp,
		StopLoss:   sl,
		Size:       size,
		Strategy:   c.name,
		Confidence: conf,
		Reason:     fmt.Sprintf("fused: %s", strings.Join(names, "+")),
		CreatedAt:  now,
	}
}

// prune drops pending signals whose confirmation window has expired. The
// caller must hold c.mu.
func (c *Composite) prune(now time.Time) {
	for sym, held := range c.pending {
		if now.After(held.expiresAt) {
			delete(c.pending, sym)
		}
	}
}

func splitBySide(signals []*domain.Signal) (longs, shorts []*domain.Signal) {
	for _, sig := range signals {
		if sig.Side == domain.SignalSideShort {
			shorts = append(shorts, sig)
		} else {
			longs = append(longs, sig)
		}
	}
	return longs, shorts
}

// confidenceForAgreement maps agreement strength to a tier: two or more
// independent sub-strategies agreeing is high, a lone signal is medium.
func confidenceForAgreement(agreed, total int) domain.Confidence {
	if agreed >= 2 {
		return domain.ConfidenceHigh
	}
	return domain.ConfidenceMedium
}

// ScaleTargets widens the take-profit distance and tightens the stop-loss
// distance for stronger signals: high scales TP x1.5 / SL x0.8, medium
// x1.25 / x0.9, low leaves both unchanged.
func ScaleTargets(entry, tp, sl float64, conf domain.Confidence) (float64, float64) {
	var tpScale, slScale float64
	switch conf {
	case domain.ConfidenceHigh:
		tpScale, slScale = 1.5, 0.8
	case domain.ConfidenceMedium:
		tpScale, slScale = 1.25, 0.9
	default:
		return tp, sl
	}

	tpDist := tp - entry
	slDist := sl - entry
	return entry + tpDist*tpScale, entry + slDist*slScale
}

func distance(entry, target float64) float64 {
	d := target - entry
	if d < 0 {
		return -d
	}
	return d
}

func rebuildTargets(entry float64, side domain.SignalSide, tpDist, slDist float64) (tp, sl float64) {
	if side == domain.SignalSideShort {
		return entry - tpDist, entry + slDist
	}
	return entry + tpDist, entry - slDist
}

var _ Strategy = (*Composite)(nil)
