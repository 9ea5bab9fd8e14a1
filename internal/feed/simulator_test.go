package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdimir/signalbot/internal/domain"
)

type collectSink struct {
	mu      sync.Mutex
	updates []domain.BookUpdate
}

func (c *collectSink) PushBook(update domain.BookUpdate) {
	c.mu.Lock()
	c.updates = append(c.updates, update)
	c.mu.Unlock()
}

func (c *collectSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.updates)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimulatorLadderShape(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{
		Symbols:    []string{"BTC/USDT"},
		StartPrice: 50_000,
		Levels:     5,
		Seed:       1,
	}, &collectSink{}, testLogger())

	update := sim.nextUpdate("BTC/USDT")
	require.Len(t, update.Bids, 5)
	require.Len(t, update.Asks, 5)

	// Bids descend, asks ascend, and the ladder never crosses.
	assert.Less(t, update.Bids[0].Price, update.Asks[0].Price)
	for i := 1; i < 5; i++ {
		assert.Less(t, update.Bids[i].Price, update.Bids[i-1].Price)
		assert.Greater(t, update.Asks[i].Price, update.Asks[i-1].Price)
	}
	for i := 0; i < 5; i++ {
		assert.Positive(t, update.Bids[i].Size)
		assert.Positive(t, update.Asks[i].Size)
	}
}

func TestSimulatorMidNeverCollapses(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{
		Symbols:       []string{"X"},
		StartPrice:    100,
		VolatilityPct: 50, // absurd volatility to force the floor
		Seed:          7,
	}, &collectSink{}, testLogger())

	for i := 0; i < 1_000; i++ {
		update := sim.nextUpdate("X")
		assert.Positive(t, update.Bids[0].Price)
	}
}

func TestSimulatorRunDelivers(t *testing.T) {
	sink := &collectSink{}
	sim := NewSimulator(SimulatorConfig{
		Symbols:  []string{"BTC/USDT", "ETH/USDT"},
		Interval: time.Millisecond,
		Seed:     1,
	}, sink, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := sim.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, sink.len(), 2)
}
