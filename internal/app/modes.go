package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/control"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/decision"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/detector"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/executor"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/failover"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/feed"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/gate"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/position"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/sim"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/watchdog"
)

// LiveMode runs the full trading chain: quote feed, delta detector,
// simulation pipeline, batcher, gate, decision engine, executor, position
// lifecycle, failover, balance watchdog, and the operator control bot.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	// The control bot stops the engine by cancelling this context; the
	// position managers then close everything on their way out.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	quoteFeed, det, batcher, pipe := a.buildDetection(deps)

	book := position.NewBook()
	admission := gate.New(gate.Config{
		MinProfitUSD:         a.cfg.Risk.MinProfitUSD,
		SLIgnoreWindow:       a.cfg.Risk.SLIgnoreWindow.Duration,
		CooldownAfterTimeout: a.cfg.Risk.CooldownAfterTimeout.Duration,
	}, book, a.logger)

	exec := executor.New(executor.Config{
		PositionSizeUSD: a.cfg.Simulation.PositionSizeUSD,
		OrderTimeout:    a.cfg.Risk.OrderTimeout.Duration,
	}, deps.Clients, deps.Specs, a.logger)

	failoverMgr := failover.NewManager(failover.Config{
		TrailingStopPct:      a.cfg.Failover.TrailingStopPct,
		InitialTakeProfitPct: a.cfg.Failover.InitialTakeProfitPct,
		CheckInterval:        a.cfg.Failover.CheckInterval.Duration,
		OrderTimeout:         a.cfg.Risk.OrderTimeout.Duration,
	}, deps.Clients, book, deps.Ledgers, deps.Notifier, a.logger)

	positionMgr := position.NewManager(position.Config{
		TakeProfitUSD: a.cfg.Risk.TakeProfitUSD,
		StopLossPct:   a.cfg.Risk.StopLossPct,
		MaxHoldTime:   a.cfg.Risk.MaxHoldTime.Duration,
		CheckInterval: a.cfg.Risk.CheckInterval.Duration,
		OrderTimeout:  a.cfg.Risk.OrderTimeout.Duration,
		Params:        a.ledgerParams(),
	}, deps.Clients, book, deps.Ledgers, failoverMgr, deps.Notifier, a.logger)

	dog := watchdog.New(watchdog.Config{
		PositionSizeUSD:  a.cfg.Simulation.PositionSizeUSD,
		BalanceMarginPct: a.cfg.Watchdog.BalanceMarginPct,
		Leverage:         a.cfg.Simulation.Leverage,
		CheckInterval:    a.cfg.Watchdog.CheckInterval.Duration,
	}, deps.Clients, deps.Notifier, a.logger)

	engine := decision.New(decision.Config{
		MaxParallelPositions: a.cfg.Risk.MaxParallelPositions,
	}, admission, book, exec, dog, positionMgr, deps.Notifier, a.logger)

	// Quote updates also kick the lifecycle checks so exits do not wait for
	// the next sweep.
	det.AddRefresher(positionMgr)
	det.AddRefresher(failoverMgr)

	g.Go(func() error { return quoteFeed.Run(ctx) })
	g.Go(func() error { return det.Run(ctx, quoteFeed.Updates()) })
	g.Go(func() error { return pipe.Run(ctx, det.Opportunities()) })
	g.Go(func() error { return batcher.Run(ctx) })
	g.Go(func() error { return engine.Run(ctx, batcher.Best()) })
	g.Go(func() error { return positionMgr.Run(ctx) })
	g.Go(func() error { return failoverMgr.Run(ctx) })
	g.Go(func() error { return dog.Run(ctx) })
	g.Go(func() error { return deps.Notifier.Run(ctx) })

	if a.cfg.Control.Enabled {
		bot := control.NewBot(control.Config{
			BotToken:     a.cfg.Control.BotToken,
			ChatID:       a.cfg.Control.ChatID,
			PollInterval: a.cfg.Control.PollInterval.Duration,
		}, book, failoverMgr, dog, cancel, a.logger)
		g.Go(func() error { return bot.Run(ctx) })
	}

	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiver(ctx, deps) })
	}

	return g.Wait()
}

// PaperMode runs detection and simulation against live market data and passes
// batch winners through the gate, but never places orders.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	g, ctx := errgroup.WithContext(ctx)

	quoteFeed, det, batcher, pipe := a.buildDetection(deps)

	book := position.NewBook()
	admission := gate.New(gate.Config{
		MinProfitUSD:         a.cfg.Risk.MinProfitUSD,
		SLIgnoreWindow:       a.cfg.Risk.SLIgnoreWindow.Duration,
		CooldownAfterTimeout: a.cfg.Risk.CooldownAfterTimeout.Duration,
	}, book, a.logger)

	g.Go(func() error { return quoteFeed.Run(ctx) })
	g.Go(func() error { return det.Run(ctx, quoteFeed.Updates()) })
	g.Go(func() error { return pipe.Run(ctx, det.Opportunities()) })
	g.Go(func() error { return batcher.Run(ctx) })
	g.Go(func() error { return deps.Notifier.Run(ctx) })

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp := <-batcher.Best():
				if opp == nil {
					continue
				}
				if ok, reason := admission.Check(opp); !ok {
					a.logger.InfoContext(ctx, "paper entry rejected",
						slog.String("symbol", opp.Symbol),
						slog.String("reason", reason))
					continue
				}
				a.logger.InfoContext(ctx, "paper entry",
					slog.String("symbol", opp.Symbol),
					slog.String("long_venue", string(opp.LongVenue)),
					slog.String("short_venue", string(opp.ShortVenue)),
					slog.Float64("net_profit", opp.NetProfit),
					slog.Float64("total_fees", opp.TotalFees))
			}
		}
	})

	return g.Wait()
}

// MonitorMode runs detection and simulation only and logs batch winners.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	quoteFeed, det, batcher, pipe := a.buildDetection(deps)

	g.Go(func() error { return quoteFeed.Run(ctx) })
	g.Go(func() error { return det.Run(ctx, quoteFeed.Updates()) })
	g.Go(func() error { return pipe.Run(ctx, det.Opportunities()) })
	g.Go(func() error { return batcher.Run(ctx) })

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case opp := <-batcher.Best():
				if opp == nil {
					continue
				}
				a.logger.InfoContext(ctx, "batch winner",
					slog.String("symbol", opp.Symbol),
					slog.Float64("raw_delta_pct", opp.RawDeltaPct),
					slog.Float64("net_profit", opp.NetProfit))
			}
		}
	})

	return g.Wait()
}

// buildDetection constructs the market-data half of the chain shared by all
// modes: quote feed, delta detector, batcher, and simulation pipeline.
func (a *App) buildDetection(deps *Dependencies) (*feed.Feed, *detector.Detector, *sim.Batcher, *sim.Pipeline) {
	quoteFeed := feed.New(deps.BybitWS, deps.KuCoinWS, deps.Pairs, deps.QuoteCache, a.logger)

	det := detector.New(detector.Config{
		MinDeltaPct:      a.cfg.Detector.MinDeltaPct,
		MinDeltaLifetime: a.cfg.Detector.MinDeltaLifetime.Duration,
		CacheExpiration:  a.cfg.Detector.DeltaCacheExpiration.Duration,
		MaxQuoteAge:      a.cfg.Detector.MaxQuoteAge.Duration,
		QueueSize:        a.cfg.Detector.QueueSize,
	}, a.logger)

	batcher := sim.NewBatcher(a.cfg.Simulation.BatchWindow.Duration, a.logger)

	fees := map[domain.Venue]float64{
		domain.VenueBybit:  a.cfg.Bybit.TakerFeeRate,
		domain.VenueKuCoin: a.cfg.KuCoin.TakerFeeRate,
	}
	pipe := sim.NewPipeline(sim.Config{
		Workers:           a.cfg.Simulation.Workers,
		PositionSizeUSD:   a.cfg.Simulation.PositionSizeUSD,
		MaxPriceImpactPct: a.cfg.Simulation.MaxPriceImpactPct,
		IncludeFunding:    a.cfg.Simulation.IncludeFunding,
		SimTimeout:        a.cfg.Simulation.SimTimeout.Duration,
		OrderBookDepth:    a.cfg.Simulation.OrderBookDepth,
		HoldHours:         a.cfg.Risk.MaxHoldTime.Duration.Hours(),
	}, deps.Clients, deps.Specs, fees, batcher, a.logger)

	return quoteFeed, det, batcher, pipe
}

// runArchiver moves closed trades older than the retention window from
// Postgres to S3 once a day.
func (a *App) runArchiver(ctx context.Context, deps *Dependencies) error {
	days := a.cfg.S3.ArchiveAfterDays
	if days <= 0 {
		days = 30
	}

	archive := func() {
		before := time.Now().UTC().AddDate(0, 0, -days)
		moved, err := deps.Archiver.Run(ctx, before)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			return
		}
		if moved > 0 {
			a.logger.InfoContext(ctx, "archived trades",
				slog.Int64("count", moved),
				slog.Time("before", before))
		}
	}

	archive()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			archive()
		}
	}
}

// ledgerParams snapshots the tunables recorded next to every trade so a CSV
// row can be read without the config file it ran under.
func (a *App) ledgerParams() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return map[string]string{
		"delta_threshold":         f(a.cfg.Detector.MinDeltaPct),
		"min_delta_lifetime":      a.cfg.Detector.MinDeltaLifetime.Duration.String(),
		"delta_cache_expiration":  a.cfg.Detector.DeltaCacheExpiration.Duration.String(),
		"position_size_usd":       f(a.cfg.Simulation.PositionSizeUSD),
		"max_price_impact_pct":    f(a.cfg.Simulation.MaxPriceImpactPct),
		"min_profit_usd":          f(a.cfg.Risk.MinProfitUSD),
		"take_profit_usd":         f(a.cfg.Risk.TakeProfitUSD),
		"stop_loss_pct":           f(a.cfg.Risk.StopLossPct),
		"max_hold_time":           a.cfg.Risk.MaxHoldTime.Duration.String(),
		"trailing_stop_pct":       f(a.cfg.Failover.TrailingStopPct),
		"initial_take_profit_pct": f(a.cfg.Failover.InitialTakeProfitPct),
		"order_timeout":           a.cfg.Risk.OrderTimeout.Duration.String(),
	}
}
