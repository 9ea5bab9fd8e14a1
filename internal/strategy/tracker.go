package strategy

import (
	"math"
	"sync"
	"time"
)

// Observation records one price/volume sample for a symbol.
type Observation struct {
	Price  float64
	Volume float64
	Time   time.Time
}

// MarketTracker maintains a sliding window of recent observations for each
// symbol and exposes the statistical helpers strategies rely on. Points
// older than the window are discarded on every Track call.
type MarketTracker struct {
	mu         sync.RWMutex
	history    map[string][]Observation
	windowSize time.Duration
}

// NewMarketTracker creates a tracker whose in-memory history extends
// windowSize into the past.
func NewMarketTracker(windowSize time.Duration) *MarketTracker {
	return &MarketTracker{
		history:    make(map[string][]Observation),
		windowSize: windowSize,
	}
}

// Track records a new observation and trims points outside the window.
func (mt *MarketTracker) Track(symbol string, price, volume float64, ts time.Time) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.history[symbol] = append(mt.history[symbol], Observation{
		Price:  price,
		Volume: volume,
		Time:   ts,
	})
	mt.trim(symbol, ts)
}

// History returns a copy of the observations within the window. The
// returned slice is safe to mutate.
func (mt *MarketTracker) History(symbol string) []Observation {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	src := mt.history[symbol]
	if len(src) == 0 {
		return nil
	}
	out := make([]Observation, len(src))
	copy(out, src)
	return out
}

// AveragePrice returns the arithmetic mean price in the window, or 0 with
// no points.
func (mt *MarketTracker) AveragePrice(symbol string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	return sum / float64(len(pts))
}

// AverageVolume returns the arithmetic mean volume in the window, or 0 with
// no points.
func (mt *MarketTracker) AverageVolume(symbol string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Volume
	}
	return sum / float64(len(pts))
}

// VolatilityPct returns the population standard deviation of prices in the
// window, as a percentage of the mean. Fewer than two points yields 0.
func (mt *MarketTracker) VolatilityPct(symbol string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	mean := sum / float64(len(pts))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance) / mean * 100
}

// PriceChangePct returns the percentage move from the oldest to the newest
// point in the window, or 0 with fewer than two points.
func (mt *MarketTracker) PriceChangePct(symbol string) float64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	pts := mt.history[symbol]
	if len(pts) < 2 {
		return 0
	}
	first := pts[0].Price
	if first == 0 {
		return 0
	}
	last := pts[len(pts)-1].Price
	return (last - first) / first * 100
}

// trim removes points older than windowSize relative to now. The caller
// must hold mt.mu.
func (mt *MarketTracker) trim(symbol string, now time.Time) {
	cutoff := now.Add(-mt.windowSize)
	pts := mt.history[symbol]

	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		mt.history[symbol] = pts[i:]
	}
}
