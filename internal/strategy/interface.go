// Package strategy defines the trading strategy contract, a name-keyed
// registry, and the strategy implementations the engine evaluates on every
// order-book update.
package strategy

import (
	"github.com/avdimir/signalbot/internal/domain"
)

// Strategy is a pluggable decision unit. The engine calls OnOrderBookUpdate
// for every applied book replacement, then EvaluateEntry once per update per
// symbol. EvaluateExit is consulted by the position-monitoring loop for
// positions this strategy opened, and OnTradeClosed lets the strategy adapt
// its thresholds from realized outcomes.
type Strategy interface {
	// Name uniquely identifies the strategy in the registry and on signals.
	Name() string

	// Symbols lists the symbols this strategy wants book updates for.
	Symbols() []string

	// OnOrderBookUpdate records internal per-symbol state. It must be
	// non-blocking: no I/O, no lock held across calls out of the package.
	OnOrderBookUpdate(symbol string, book *domain.OrderBook)

	// EvaluateEntry returns a trade intent for the symbol, or nil. It may
	// read history but must not mutate shared position state.
	EvaluateEntry(symbol string) *domain.Signal

	// EvaluateExit reports whether an open position should close now.
	EvaluateExit(pos *domain.Position) bool

	// OnTradeClosed feeds back the outcome of a closed trade so the
	// strategy can tighten or relax its thresholds.
	OnTradeClosed(wasProfitable bool)
}
