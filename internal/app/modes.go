package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/updownbot/internal/book"
	"github.com/alanyoungcy/updownbot/internal/domain"
	"github.com/alanyoungcy/updownbot/internal/engine"
	"github.com/alanyoungcy/updownbot/internal/executor"
	"github.com/alanyoungcy/updownbot/internal/feed"
	"github.com/alanyoungcy/updownbot/internal/journal"
	"github.com/alanyoungcy/updownbot/internal/notify"
	"github.com/alanyoungcy/updownbot/internal/platform/polymarket"
	"github.com/alanyoungcy/updownbot/internal/policy"
	"github.com/alanyoungcy/updownbot/internal/refprice"
	"github.com/alanyoungcy/updownbot/internal/server"
	"github.com/alanyoungcy/updownbot/internal/server/handler"
	"github.com/alanyoungcy/updownbot/internal/server/ws"
	"github.com/alanyoungcy/updownbot/internal/service"
	"github.com/alanyoungcy/updownbot/internal/strategy"
)

// PaperMode runs discovery, feeds, decision loops and settlement, and records
// every accepted intent as a paper trade in PostgreSQL.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	if deps.TradeStore == nil {
		return fmt.Errorf("paper mode: trade store is required")
	}
	return a.runBot(ctx, deps)
}

// MonitorMode runs the same pipeline without persistence. Intents are logged,
// published and notified but no trade is recorded.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runBot(ctx, deps)
}

// runBot builds the shared collaborators, one decision loop plus book feed
// per target, and runs everything under one errgroup.
func (a *App) runBot(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	targets := cfg.Targets()
	if len(targets) == 0 {
		return fmt.Errorf("app: no targets configured")
	}

	g, ctx := errgroup.WithContext(ctx)

	// Reference prices.
	refs := refprice.NewBuffer(cfg.Feed.ReferenceWindow.Duration)
	rtds := feed.NewRTDSFeed(feed.RTDSFeedConfig{
		URL:               cfg.Polymarket.RTDSURL,
		Symbols:           referenceSymbols(targets),
		ReconnectDelay:    cfg.Feed.ReconnectDelay.Duration,
		MaxReconnectDelay: cfg.Feed.MaxReconnectDelay.Duration,
		HealthyAge:        cfg.Feed.ReferenceHealthyAge.Duration,
	}, refs, deps.Metrics, a.logger)

	// Discovery and settlement share one rate-limited Gamma client.
	gamma := a.newGammaClient()
	markets := service.NewMarketService(gamma, refs, targets, cfg.Engine.DiscoveryInterval.Duration, deps.Metrics, a.logger)

	settler := service.NewSettlementTracker(service.SettlementConfig{
		Interval:        cfg.Settlement.Interval.Duration,
		Buffer:          cfg.Settlement.Buffer.Duration,
		WinnerThreshold: cfg.Settlement.WinnerThreshold,
		GammaRetries:    cfg.Settlement.GammaRetries,
		GammaRetryDelay: cfg.Settlement.GammaRetryDelay.Duration,
		GiveUpAfter:     cfg.Settlement.GiveUpAfter.Duration,
		HistorySize:     cfg.Settlement.HistorySize,
		OpenTradeScan:   cfg.Settlement.OpenTradeScan.Duration,
	}, gamma, refs, deps.OutcomeStore, deps.TradeStore, a.logger)
	settler.SetNotifier(deps.Notifier)
	settler.SetMetrics(deps.Metrics)
	if deps.SignalBus != nil {
		settler.SetSignalBus(deps.SignalBus)
	}
	if err := settler.Seed(ctx, targets); err != nil {
		a.logger.WarnContext(ctx, "settlement history seed failed", slog.String("error", err.Error()))
	}

	exec := executor.NewExecutor(executor.Config{
		Buffer:      cfg.Engine.HandoffBuffer,
		LockTTLPad:  cfg.Executor.LockTTLPad.Duration,
		SeedHorizon: cfg.Executor.SeedHorizon.Duration,
	}, deps.TradeStore, a.logger)
	exec.SetNotifier(deps.Notifier)
	exec.SetMetrics(deps.Metrics)
	if deps.LockManager != nil {
		exec.SetLockManager(deps.LockManager)
	}
	if deps.SignalBus != nil {
		exec.SetSignalBus(deps.SignalBus)
	}
	if err := exec.Seed(ctx); err != nil {
		a.logger.WarnContext(ctx, "executor seed failed", slog.String("error", err.Error()))
	}

	var jr *journal.Journal
	if deps.BlobWriter != nil {
		jr = journal.New(journal.Config{
			MaxBuffered:   cfg.Journal.MaxBuffered,
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval.Duration,
			Prefix:        cfg.Journal.Prefix,
		}, deps.BlobWriter, a.logger)
		g.Go(func() error { return jr.Run(ctx) })
	}

	// One book store, book feed and decision loop per target.
	reporters := make([]handler.LoopReporter, 0, len(targets))
	for _, t := range targets {
		store := book.NewStore()
		bookFeed := feed.NewPolymarketWSFeed(feed.BookFeedConfig{
			Name:              "clob-" + t.Name(),
			URL:               cfg.Polymarket.MarketWSURL(),
			KeepaliveInterval: cfg.Feed.KeepaliveInterval.Duration,
			PongTimeout:       cfg.Feed.PongTimeout.Duration,
			QueueSize:         cfg.Feed.QueueSize,
			ReconnectDelay:    cfg.Feed.ReconnectDelay.Duration,
			MaxReconnectDelay: cfg.Feed.MaxReconnectDelay.Duration,
		}, store, deps.Metrics, a.logger)

		loopDeps := engine.Deps{
			Book:    store,
			Windows: markets,
			Feed:    bookFeed,
			Handoff: exec,
			Refs:    refs,
			Settler: settler,
			Metrics: deps.Metrics,
		}
		if jr != nil {
			loopDeps.Journal = jr
		}
		loop, err := a.newLoop(t, loopDeps, settler)
		if err != nil {
			return err
		}
		reporters = append(reporters, loop)

		g.Go(func() error { return bookFeed.Run(ctx) })
		g.Go(func() error { return loop.Run(ctx) })
	}

	g.Go(func() error { return rtds.Run(ctx) })
	g.Go(func() error { return markets.Run(ctx) })
	g.Go(func() error { return settler.Run(ctx) })
	g.Go(func() error { return exec.Run(ctx) })

	if cfg.Server.Enabled {
		checks := make(map[string]handler.Checker, len(deps.Checks)+1)
		for name, c := range deps.Checks {
			checks[name] = c
		}
		checks["reference_prices"] = func(context.Context) error {
			if !rtds.Healthy(time.Now()) {
				return errors.New("no recent reference price")
			}
			return nil
		}
		handlers := server.Handlers{
			Health:  handler.NewHealthHandler(checks, a.logger),
			Status:  handler.NewStatusHandler(cfg.Mode, reporters, rtds.Healthy),
			Metrics: deps.Metrics.Handler(),
		}
		if deps.TradeStore != nil {
			handlers.Trades = handler.NewTradeHandler(service.NewTradeService(deps.TradeStore), a.logger)
		}
		if deps.BlobReader != nil {
			handlers.Journal = handler.NewJournalHandler(deps.BlobReader, cfg.Journal.Prefix, a.logger)
		}
		if deps.SignalBus != nil {
			handlers.Events = ws.NewStreamer(deps.SignalBus, ws.Config{
				Channels: []string{executor.IntentChannel, service.SettlementChannel},
				Stream:   executor.TradeStream,
			}, a.logger)
		}
		a.startHTTPServer(ctx, g, handlers)
	}

	title := "updownbot started"
	msg := fmt.Sprintf("mode=%s loops=%d", cfg.Mode, len(targets))
	if err := deps.Notifier.Notify(ctx, notify.EventStartup, title, msg); err != nil {
		a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
	}

	return g.Wait()
}

// newLoop builds the computers, gate and sizing of one target and the loop
// around them.
func (a *App) newLoop(t service.Target, deps engine.Deps, history strategy.History) (*engine.Loop, error) {
	cfg := a.cfg

	pol, err := strategy.LookupPolicy(cfg.Combiner.Policy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	sizing, err := policy.NewSizing(cfg.SizeBands(), cfg.Sizing.MaxPrice, cfg.Sizing.AllowNonMonotonic)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	gateParams := cfg.GateParams()
	if err := gateParams.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	reg := a.newComputerRegistry(history)
	deps.Computers = reg.Build()
	deps.Gate = policy.NewGate(gateParams)
	deps.Sizing = sizing

	loopCfg := engine.Config{
		Asset:        t.Asset,
		Cadence:      t.Cadence,
		TickInterval: cfg.Engine.TickInterval.Duration,
		StaleMaxAge:  cfg.Feed.StaleMaxAge.Duration,
		Depth:        cfg.Engine.Depth,
		RefSymbol:    refprice.SymbolFor(t.Asset),
		RefMaxAge:    cfg.Feed.ReferenceHealthyAge.Duration,
		MoveLookback: gateParams.MoveLookback,
		Policy:       pol,
		Combine:      cfg.CombineOptions(),
	}
	loop, err := engine.New(loopCfg, deps, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: loop %s: %w", t.Name(), err)
	}

	if cfg.Signals.Imbalance.Enabled {
		a.logger.Info("imbalance horizon",
			slog.String("loop", t.Name()),
			slog.Int("window_size", cfg.Signals.Imbalance.WindowSize),
			slog.Duration("horizon", cfg.ImbalanceHorizon()),
		)
	}
	return loop, nil
}

// newComputerRegistry registers a factory for every enabled signal computer.
// The registry is rebuilt per loop, so computers never share state.
func (a *App) newComputerRegistry(history strategy.History) *strategy.Registry {
	s := a.cfg.Signals
	reg := strategy.NewRegistry()

	if s.Mispricing.Enabled {
		p := strategy.MispricingParams{
			ArbitrageEnabled: s.Mispricing.ArbitrageEnabled,
			ArbSumThreshold:  s.Mispricing.ArbSumThreshold,
			CheapAskFloor:    s.Mispricing.CheapAskFloor,
			MinGap:           s.Mispricing.MinGap,
		}
		reg.Register(domain.SourceMispricing, func() strategy.Computer { return strategy.NewMispricing(p) })
	}
	if s.Whale.Enabled {
		p := strategy.WhaleParams{
			TopN:           s.Whale.TopN,
			MinSize:        s.Whale.MinSize,
			LayeringLevels: s.Whale.LayeringLevels,
			SweepLevels:    s.Whale.SweepLevels,
			SpoofRepeats:   s.Whale.SpoofRepeats,
			SpoofWindow:    s.Whale.SpoofWindow.Duration,
		}
		reg.Register(domain.SourceWhale, func() strategy.Computer { return strategy.NewWhale(p) })
	}
	if s.Imbalance.Enabled {
		p := strategy.ImbalanceParams{
			TopK:       s.Imbalance.TopK,
			Threshold:  s.Imbalance.Threshold,
			WindowSize: s.Imbalance.WindowSize,
			MinSamples: s.Imbalance.MinSamples,
			MaxAge:     a.cfg.ImbalanceHorizon(),
		}
		reg.Register(domain.SourceImbalance, func() strategy.Computer { return strategy.NewImbalance(p) })
	}
	if s.Momentum.Enabled && history != nil {
		lookback := s.Momentum.Lookback
		reg.Register(domain.SourceMomentum, func() strategy.Computer { return strategy.NewMomentum(lookback, history) })
	}

	a.logger.Debug("signal computers registered", slog.Any("sources", reg.List()))
	return reg
}

// newGammaClient builds the shared Gamma client with the configured rate
// limit, logging circuit breaker transitions.
func (a *App) newGammaClient() *polymarket.GammaClient {
	p := a.cfg.Polymarket
	return polymarket.NewGammaClient(p.GammaHost,
		polymarket.WithHTTPClient(&http.Client{Timeout: p.GammaTimeout.Duration}),
		polymarket.WithRateLimit(p.GammaRPS, p.GammaBurst),
		polymarket.WithBreakerStateChange(func(name string, from, to gobreaker.State) {
			a.logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		}),
	)
}

// referenceSymbols returns the distinct reference price symbols of targets.
func referenceSymbols(targets []service.Target) []string {
	seen := make(map[string]bool, len(targets))
	var out []string
	for _, t := range targets {
		sym := refprice.SymbolFor(t.Asset)
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	return out
}

// startHTTPServer adds an HTTP server goroutine to the given errgroup. The
// server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, handlers server.Handlers) {
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}, handlers, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
