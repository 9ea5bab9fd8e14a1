package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avdimir/signalbot/internal/domain"
)

// Bridge mirrors a live venue's book stream into a sink. Paper mode uses it
// to trade simulated fills against real market data.
type Bridge struct {
	source  domain.Exchange
	sink    BookSink
	symbols []string
	logger  *slog.Logger
}

// NewBridge creates a bridge from the source venue to the sink.
func NewBridge(source domain.Exchange, sink BookSink, symbols []string, logger *slog.Logger) *Bridge {
	return &Bridge{
		source:  source,
		sink:    sink,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "feed_bridge"), slog.String("source", source.Name())),
	}
}

// Run connects the source venue, subscribes every symbol, and forwards
// updates until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.source.Connect(ctx); err != nil {
		return fmt.Errorf("feed: connect %s: %w", b.source.Name(), err)
	}
	defer func() {
		if err := b.source.Disconnect(context.Background()); err != nil {
			b.logger.Warn("source disconnect failed", slog.String("error", err.Error()))
		}
	}()

	b.source.OnBookUpdate(func(update domain.BookUpdate) {
		b.sink.PushBook(update)
	})
	for _, sym := range b.symbols {
		if err := b.source.SubscribeOrderBook(ctx, sym); err != nil {
			return fmt.Errorf("feed: subscribe %s on %s: %w", sym, b.source.Name(), err)
		}
	}

	b.logger.Info("feed bridge started", slog.Int("symbols", len(b.symbols)))
	<-ctx.Done()
	return ctx.Err()
}
