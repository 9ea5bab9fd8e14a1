// Package feed supplies market data to the paper venue: a random-walk book
// simulator for offline dry runs, and a bridge that mirrors a live venue's
// stream so paper fills execute against real ladders.
package feed

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/avdimir/signalbot/internal/domain"
)

// BookSink receives generated or mirrored book ladders.
type BookSink interface {
	PushBook(update domain.BookUpdate)
}

// SimulatorConfig tunes the random-walk book generator.
type SimulatorConfig struct {
	Symbols       []string
	Interval      time.Duration
	StartPrice    float64
	VolatilityPct float64 // per-tick standard deviation of the mid, in percent
	Levels        int
	Seed          int64 // 0 seeds from the clock
}

// Simulator generates order-book ladders around a per-symbol random-walk mid
// price and pushes them into the sink at a fixed cadence.
type Simulator struct {
	cfg    SimulatorConfig
	sink   BookSink
	rng    *rand.Rand
	mids   map[string]float64
	logger *slog.Logger
}

// NewSimulator creates a simulator seeded at the configured start price.
func NewSimulator(cfg SimulatorConfig, sink BookSink, logger *slog.Logger) *Simulator {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.VolatilityPct <= 0 {
		cfg.VolatilityPct = 0.05
	}
	if cfg.Levels <= 0 {
		cfg.Levels = 10
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	mids := make(map[string]float64, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		mids[sym] = cfg.StartPrice
	}
	return &Simulator{
		cfg:    cfg,
		sink:   sink,
		rng:    rand.New(rand.NewSource(seed)),
		mids:   mids,
		logger: logger.With(slog.String("component", "feed_simulator")),
	}
}

// Run pushes one ladder per symbol per tick until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	s.logger.Info("simulated feed started",
		slog.Int("symbols", len(s.cfg.Symbols)),
		slog.Duration("interval", s.cfg.Interval),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range s.cfg.Symbols {
				s.sink.PushBook(s.nextUpdate(sym))
			}
		}
	}
}

// nextUpdate advances the symbol's mid by one random-walk step and builds a
// ladder around it with 2 bps level spacing.
func (s *Simulator) nextUpdate(symbol string) domain.BookUpdate {
	mid := s.mids[symbol]
	mid *= 1 + s.rng.NormFloat64()*s.cfg.VolatilityPct/100
	if mid <= 0 {
		mid = s.cfg.StartPrice
	}
	s.mids[symbol] = mid

	step := mid * 0.0002
	bids := make([]domain.Level, s.cfg.Levels)
	asks := make([]domain.Level, s.cfg.Levels)
	for i := 0; i < s.cfg.Levels; i++ {
		bids[i] = domain.Level{Price: mid - step*float64(i+1), Size: 0.5 + s.rng.Float64()*2}
		asks[i] = domain.Level{Price: mid + step*float64(i+1), Size: 0.5 + s.rng.Float64()*2}
	}
	return domain.BookUpdate{Symbol: symbol, Bids: bids, Asks: asks}
}
