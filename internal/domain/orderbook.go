package domain

import (
	"math"
	"sort"
	"sync"
	"time"
)

// metricsTTL bounds how long lazily computed book metrics stay valid
// before the next accessor recomputes them.
const metricsTTL = time.Second

// Level is a single price+size entry in an orderbook ladder.
type Level struct {
	Price float64
	Size  float64
}

// bookMetrics holds the derived values recomputed lazily after each replace.
type bookMetrics struct {
	midPrice    float64
	spread      float64
	spreadPct   float64
	weightedMid float64
	depthQuote  float64
	computedAt  time.Time
}

// OrderBook is a depth-limited, sorted snapshot of bids and asks for one
// symbol on one venue. It is replaced wholesale on every update; derived
// metrics are cached and recomputed on demand within a freshness window.
// All methods are safe for concurrent use.
type OrderBook struct {
	Symbol   string
	Exchange string

	mu        sync.RWMutex
	bids      []Level // sorted by price descending
	asks      []Level // sorted by price ascending
	depth     int
	timestamp time.Time
	metrics   *bookMetrics
}

// NewOrderBook creates an empty book for the given symbol and venue,
// truncated to at most depth levels per side. A non-positive depth falls
// back to 20 levels.
func NewOrderBook(symbol, exchange string, depth int) *OrderBook {
	if depth <= 0 {
		depth = 20
	}
	return &OrderBook{
		Symbol:   symbol,
		Exchange: exchange,
		depth:    depth,
	}
}

// Replace swaps in a full new ladder. Levels with non-positive sizes are
// dropped, both sides are sorted and truncated to the configured depth, the
// timestamp is stamped, and the metrics cache is invalidated.
func (b *OrderBook) Replace(bids, asks []Level, ts time.Time) {
	cleanBids := make([]Level, 0, len(bids))
	for _, l := range bids {
		if l.Size > 0 && l.Price > 0 {
			cleanBids = append(cleanBids, l)
		}
	}
	cleanAsks := make([]Level, 0, len(asks))
	for _, l := range asks {
		if l.Size > 0 && l.Price > 0 {
			cleanAsks = append(cleanAsks, l)
		}
	}
	sort.Slice(cleanBids, func(i, j int) bool { return cleanBids[i].Price > cleanBids[j].Price })
	sort.Slice(cleanAsks, func(i, j int) bool { return cleanAsks[i].Price < cleanAsks[j].Price })
	if len(cleanBids) > b.depth {
		cleanBids = cleanBids[:b.depth]
	}
	if len(cleanAsks) > b.depth {
		cleanAsks = cleanAsks[:b.depth]
	}

	b.mu.Lock()
	b.bids = cleanBids
	b.asks = cleanAsks
	b.timestamp = ts
	b.metrics = nil
	b.mu.Unlock()
}

// IsValid reports whether the book is internally consistent: both sides
// strictly sorted, all sizes positive, and best bid below best ask once both
// sides are non-empty. Callers must discard updates that fail this check.
func (b *OrderBook) IsValid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i, l := range b.bids {
		if l.Size <= 0 {
			return false
		}
		if i > 0 && b.bids[i-1].Price <= l.Price {
			return false
		}
	}
	for i, l := range b.asks {
		if l.Size <= 0 {
			return false
		}
		if i > 0 && b.asks[i-1].Price >= l.Price {
			return false
		}
	}
	if len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].Price >= b.asks[0].Price {
		return false
	}
	return true
}

// Timestamp returns when the current ladder was applied.
func (b *OrderBook) Timestamp() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timestamp
}

// BestBid returns the highest bid price, or 0 when the bid side is empty.
func (b *OrderBook) BestBid() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.bids) == 0 {
		return 0
	}
	return b.bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the ask side is empty.
func (b *OrderBook) BestAsk() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.asks) == 0 {
		return 0
	}
	return b.asks[0].Price
}

// Levels returns copies of the current bid and ask ladders. The returned
// slices are safe to mutate.
func (b *OrderBook) Levels() (bids, asks []Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = make([]Level, len(b.bids))
	copy(bids, b.bids)
	asks = make([]Level, len(b.asks))
	copy(asks, b.asks)
	return bids, asks
}

// MidPrice returns the midpoint of the best bid and ask, or 0 when either
// side is empty.
func (b *OrderBook) MidPrice() float64 {
	return b.cached().midPrice
}

// Spread returns the absolute best ask minus best bid, or 0 when either
// side is empty.
func (b *OrderBook) Spread() float64 {
	return b.cached().spread
}

// SpreadPct returns the spread as a percentage of the mid price.
func (b *OrderBook) SpreadPct() float64 {
	return b.cached().spreadPct
}

// WeightedMidPrice returns the mid price adjusted toward the heavier side of
// the top five levels. With volume weight w, the result blends the plain mid
// with the imbalance-shifted mid.
func (b *OrderBook) WeightedMidPrice() float64 {
	return b.cached().weightedMid
}

// MarketDepth returns the total quote-currency value resting on both sides
// across the top ten levels.
func (b *OrderBook) MarketDepth() float64 {
	return b.cached().depthQuote
}

// VolumeImbalance returns (bidVol-askVol)/(bidVol+askVol) across the top
// levels of each side, in [-1, 1]. Zero when both sides are empty.
func (b *OrderBook) VolumeImbalance(levels int) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bidVol := sideVolume(b.bids, levels)
	askVol := sideVolume(b.asks, levels)
	total := bidVol + askVol
	if total == 0 {
		return 0
	}
	return (bidVol - askVol) / total
}

// EstimateExecutionPrice walks the ladder consuming size in price order and
// returns the volume-weighted fill price for a hypothetical order. When the
// book cannot absorb the full size, it returns +Inf for buys (infinite cost)
// and 0 for sells (no revenue); callers must treat those as "cannot price
// this size", never as a quote.
func (b *OrderBook) EstimateExecutionPrice(size float64, side OrderSide) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if size <= 0 {
		return 0
	}

	levels := b.asks
	unfillable := math.Inf(1)
	if side == OrderSideSell {
		levels = b.bids
		unfillable = 0
	}

	remaining := size
	var cost float64
	for _, l := range levels {
		take := math.Min(remaining, l.Size)
		cost += take * l.Price
		remaining -= take
		if remaining <= 0 {
			return cost / size
		}
	}
	return unfillable
}

// cached returns the derived metrics, recomputing them when the ladder has
// changed or the freshness window has elapsed.
func (b *OrderBook) cached() bookMetrics {
	b.mu.RLock()
	m := b.metrics
	b.mu.RUnlock()
	if m != nil && time.Since(m.computedAt) < metricsTTL {
		return *m
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.metrics != nil && time.Since(b.metrics.computedAt) < metricsTTL {
		return *b.metrics
	}
	fresh := b.compute()
	b.metrics = &fresh
	return fresh
}

// compute derives all cached metrics from the current ladder. The caller
// must hold b.mu.
func (b *OrderBook) compute() bookMetrics {
	m := bookMetrics{computedAt: time.Now()}
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return m
	}

	bestBid := b.bids[0].Price
	bestAsk := b.asks[0].Price
	m.midPrice = (bestBid + bestAsk) / 2
	m.spread = bestAsk - bestBid
	if m.midPrice > 0 {
		m.spreadPct = m.spread / m.midPrice * 100
	}

	// Weighted mid blends the plain mid with an imbalance-shifted mid over
	// the top five levels.
	const volumeWeight = 0.5
	bidVol := sideVolume(b.bids, 5)
	askVol := sideVolume(b.asks, 5)
	if total := bidVol + askVol; total > 0 {
		shifted := (bestBid*askVol + bestAsk*bidVol) / total
		m.weightedMid = m.midPrice*(1-volumeWeight) + shifted*volumeWeight
	} else {
		m.weightedMid = m.midPrice
	}

	for _, l := range b.bids[:minInt(10, len(b.bids))] {
		m.depthQuote += l.Price * l.Size
	}
	for _, l := range b.asks[:minInt(10, len(b.asks))] {
		m.depthQuote += l.Price * l.Size
	}
	return m
}

func sideVolume(levels []Level, n int) float64 {
	var vol float64
	for _, l := range levels[:minInt(n, len(levels))] {
		vol += l.Size
	}
	return vol
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
