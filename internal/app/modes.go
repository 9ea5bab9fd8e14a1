package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/avdimir/signalbot/internal/blob/s3"
	"github.com/avdimir/signalbot/internal/crypto"
	"github.com/avdimir/signalbot/internal/domain"
	"github.com/avdimir/signalbot/internal/engine"
	"github.com/avdimir/signalbot/internal/exchange"
	"github.com/avdimir/signalbot/internal/feed"
	"github.com/avdimir/signalbot/internal/notify"
	"github.com/avdimir/signalbot/internal/position"
	"github.com/avdimir/signalbot/internal/risk"
	"github.com/avdimir/signalbot/internal/strategy"
)

// feedRunner is a long-running market-data source for the paper venue.
type feedRunner interface {
	Run(ctx context.Context) error
}

// PaperMode runs the engine against the simulated venue. Market data comes
// from a live stream when venue URLs are configured, otherwise from the
// random-walk simulator.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Float64("balance", a.cfg.Paper.Balance),
	)

	paper := exchange.NewPaper("paper", a.cfg.Paper.Balance, a.logger)
	exchanges := map[string]domain.Exchange{paper.Name(): paper}
	symbols := a.tradeSymbols()

	var feedSrc feedRunner
	if a.cfg.Venue.WSURL != "" && a.cfg.Venue.RESTURL != "" {
		// Market data only; no credentials are needed for book streams.
		source := exchange.NewVenue(exchange.VenueConfig{
			Name:         a.cfg.Venue.Name,
			WSURL:        a.cfg.Venue.WSURL,
			RESTURL:      a.cfg.Venue.RESTURL,
			BookDepth:    a.cfg.Engine.BookDepth,
			PollInterval: a.cfg.Venue.PollInterval.Duration,
		}, nil, a.logger)
		feedSrc = feed.NewBridge(source, paper, symbols, a.logger)
	} else {
		feedSrc = feed.NewSimulator(feed.SimulatorConfig{
			Symbols:       symbols,
			Interval:      a.cfg.Paper.FeedInterval.Duration,
			StartPrice:    a.cfg.Paper.StartPrice,
			VolatilityPct: a.cfg.Paper.VolatilityPct,
			Levels:        a.cfg.Engine.BookDepth,
		}, paper, a.logger)
	}

	return a.runEngine(ctx, deps, exchanges, paper.Name(), feedSrc)
}

// TradeMode runs the engine against the live venue with HMAC-authenticated
// order submission.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("venue", a.cfg.Venue.Name),
	)

	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     a.cfg.Venue.APISecret,
		EncryptedPath: a.cfg.Venue.EncryptedSecretPath,
		Password:      a.cfg.Venue.SecretPassword,
	})
	if err != nil {
		return fmt.Errorf("trade mode: load venue secret: %w", err)
	}

	venue := exchange.NewVenue(exchange.VenueConfig{
		Name:            a.cfg.Venue.Name,
		WSURL:           a.cfg.Venue.WSURL,
		RESTURL:         a.cfg.Venue.RESTURL,
		Auth:            &crypto.HMACAuth{Key: a.cfg.Venue.APIKey, Secret: secret},
		BookDepth:       a.cfg.Engine.BookDepth,
		PollInterval:    a.cfg.Venue.PollInterval.Duration,
		OrderRateLimit:  a.cfg.Venue.OrderRateLimit,
		OrderRateWindow: a.cfg.Venue.OrderRateWindow.Duration,
	}, deps.RateLimiter, a.logger)

	exchanges := map[string]domain.Exchange{venue.Name(): venue}
	return a.runEngine(ctx, deps, exchanges, venue.Name(), nil)
}

// runEngine assembles strategies, risk, and positions around the given
// venues, starts the engine plus auxiliary loops, and blocks until the
// context is cancelled.
func (a *App) runEngine(
	ctx context.Context,
	deps *Dependencies,
	exchanges map[string]domain.Exchange,
	venueName string,
	feedSrc feedRunner,
) error {
	registry, err := a.newStrategyRegistry()
	if err != nil {
		return fmt.Errorf("app: build strategies: %w", err)
	}

	riskMgr := risk.NewManager(risk.Config{
		InitialBalance:         a.cfg.Risk.InitialBalance,
		MaxDrawdownPct:         a.cfg.Risk.MaxDrawdownPct,
		MaxPositionSizePct:     a.cfg.Risk.MaxPositionSizePct,
		MaxTotalRiskPct:        a.cfg.Risk.MaxTotalRiskPct,
		MaxCorrelatedPositions: a.cfg.Risk.MaxCorrelatedPositions,
		PauseAfterLosses:       a.cfg.Risk.PauseAfterLosses,
		PauseDuration:          a.cfg.Risk.PauseDuration.Duration,
		CorrelationWindow:      a.cfg.Risk.CorrelationWindow,
	}, a.logger)

	posMgr := position.NewManager(
		riskMgr,
		exchanges,
		deps.PositionStore,
		deps.TradeStore,
		deps.EventBus,
		deps.Notifier,
		a.logger,
	).WithOrderStore(deps.OrderStore)
	riskMgr.BindPositions(posMgr)

	subs := make([]engine.Subscription, 0, len(a.tradeSymbols()))
	for _, sym := range a.tradeSymbols() {
		subs = append(subs, engine.Subscription{Symbol: sym, Exchange: venueName})
	}

	eng := engine.New(engine.Config{
		Subscriptions:   subs,
		BookDepth:       a.cfg.Engine.BookDepth,
		QueueSize:       a.cfg.Engine.QueueSize,
		MonitorInterval: a.cfg.Engine.MonitorInterval.Duration,
		MetricsInterval: a.cfg.Engine.MetricsInterval.Duration,
		DrainTimeout:    a.cfg.Engine.DrainTimeout.Duration,
	}, registry, riskMgr, posMgr, exchanges, deps.PriceCache, deps.BookCache, deps.MetricStore, a.logger)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("app: start engine: %w", err)
	}
	a.notifyEvent(ctx, deps.Notifier, notify.EventEngineStarted, "Engine started",
		fmt.Sprintf("mode=%s venue=%s symbols=%d", a.cfg.Mode, venueName, len(subs)))

	g, gctx := errgroup.WithContext(ctx)
	if feedSrc != nil {
		g.Go(func() error { return feedSrc.Run(gctx) })
	}
	if deps.Archiver != nil {
		g.Go(func() error { return a.retentionLoop(gctx, deps.Archiver) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err = g.Wait()
	eng.Stop()
	a.notifyEvent(context.Background(), deps.Notifier, notify.EventEngineStopped, "Engine stopped",
		fmt.Sprintf("mode=%s", a.cfg.Mode))

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// retentionLoop archives aged trades once per configured interval. The
// first run happens immediately so a restart never postpones an overdue
// archive by a full interval.
func (a *App) retentionLoop(ctx context.Context, arch *s3blob.Archiver) error {
	interval := a.cfg.Retention.Interval.Duration
	maxAge := a.cfg.Retention.MaxAge.Duration

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := arch.Run(ctx, maxAge); err != nil {
			a.logger.ErrorContext(ctx, "retention run failed",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newStrategyRegistry instantiates the enabled strategies. When the
// composite is enabled it wraps them behind a quorum vote and registers only
// the fused strategy.
func (a *App) newStrategyRegistry() (*strategy.Registry, error) {
	sc := a.cfg.Strategies
	symbols := a.cfg.Engine.Symbols

	var enabled []strategy.Strategy
	if sc.Imbalance.Enabled {
		enabled = append(enabled, strategy.NewImbalance(strategy.ImbalanceConfig{
			Symbols:          symbols,
			ImbalanceRatio:   sc.Imbalance.ImbalanceRatio,
			Levels:           sc.Imbalance.Levels,
			LargeOrderSize:   sc.Imbalance.LargeOrderSize,
			MaxVolatilityPct: sc.Imbalance.MaxVolatilityPct,
			MinDepthQuote:    sc.Imbalance.MinDepthQuote,
			MaxSpreadPct:     sc.Imbalance.MaxSpreadPct,
			TakeProfitPct:    sc.Imbalance.TakeProfitPct,
			StopLossPct:      sc.Imbalance.StopLossPct,
			BaseSize:         sc.Imbalance.BaseSize,
		}))
	}
	if sc.VolumeImpulse.Enabled {
		enabled = append(enabled, strategy.NewVolumeImpulse(strategy.VolumeImpulseConfig{
			Symbols:           symbols,
			SpikeRatio:        sc.VolumeImpulse.SpikeRatio,
			Window:            sc.VolumeImpulse.Window.Duration,
			MinPriceChangePct: sc.VolumeImpulse.MinPriceChangePct,
			TakeProfitPct:     sc.VolumeImpulse.TakeProfitPct,
			StopLossPct:       sc.VolumeImpulse.StopLossPct,
			BaseSize:          sc.VolumeImpulse.BaseSize,
		}))
	}
	if sc.PriceAction.Enabled {
		enabled = append(enabled, strategy.NewPriceAction(strategy.PriceActionConfig{
			Symbols:        symbols,
			MinImpulsePct:  sc.PriceAction.MinImpulsePct,
			VolumeRatio:    sc.PriceAction.VolumeRatio,
			RetracementMin: sc.PriceAction.RetracementMin,
			RetracementMax: sc.PriceAction.RetracementMax,
			Window:         sc.PriceAction.Window.Duration,
			MaxHoldTime:    sc.PriceAction.MaxHoldTime.Duration,
			TakeProfitPct:  sc.PriceAction.TakeProfitPct,
			StopLossPct:    sc.PriceAction.StopLossPct,
			BaseSize:       sc.PriceAction.BaseSize,
		}))
	}
	if sc.PairSpread.Enabled {
		enabled = append(enabled, strategy.NewPairSpread(strategy.PairSpreadConfig{
			Symbol:        sc.PairSpread.Symbol,
			RefSymbol:     sc.PairSpread.RefSymbol,
			Window:        sc.PairSpread.Window.Duration,
			MinSamples:    sc.PairSpread.MinSamples,
			EntryZ:        sc.PairSpread.EntryZ,
			ExitZ:         sc.PairSpread.ExitZ,
			TakeProfitPct: sc.PairSpread.TakeProfitPct,
			StopLossPct:   sc.PairSpread.StopLossPct,
			BaseSize:      sc.PairSpread.BaseSize,
		}))
	}

	reg := strategy.NewRegistry()
	if sc.Composite.Enabled {
		if err := reg.Register(strategy.NewComposite("composite", sc.Composite.Quorum, enabled...)); err != nil {
			return nil, err
		}
		return reg, nil
	}
	for _, s := range enabled {
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// tradeSymbols returns the engine symbols plus both pair-spread legs,
// deduplicated in order.
func (a *App) tradeSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(sym string) {
		if sym == "" || seen[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}
	for _, sym := range a.cfg.Engine.Symbols {
		add(sym)
	}
	if a.cfg.Strategies.PairSpread.Enabled {
		add(a.cfg.Strategies.PairSpread.Symbol)
		add(a.cfg.Strategies.PairSpread.RefSymbol)
	}
	return out
}

// notifyEvent sends a lifecycle notification, logging delivery failures.
func (a *App) notifyEvent(ctx context.Context, n *notify.Notifier, event, title, message string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, event, title, message); err != nil {
		a.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
