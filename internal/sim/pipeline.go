package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// Config tunes the simulation pipeline.
type Config struct {
	// Workers is the number of concurrent simulation goroutines.
	Workers int

	// PositionSizeUSD is the notional per leg.
	PositionSizeUSD float64

	// MaxPriceImpactPct rejects opportunities whose worse leg would move the
	// book further than this.
	MaxPriceImpactPct float64

	// IncludeFunding adds a projected funding flow to the economics.
	IncludeFunding bool

	// SimTimeout bounds the venue round trips of a single simulation.
	SimTimeout time.Duration

	// OrderBookDepth is the number of levels fetched per side.
	OrderBookDepth int

	// HoldHours is the expected holding period used for funding projection.
	HoldHours float64
}

// Pipeline enriches raw opportunities with simulated fills, funding, and
// profit, then hands survivors to the batcher.
type Pipeline struct {
	cfg     Config
	clients map[domain.Venue]domain.VenueClient
	specs   domain.SpecsProvider
	fees    map[domain.Venue]float64
	batcher *Batcher
	logger  *slog.Logger
}

// NewPipeline creates a simulation Pipeline. fees maps each venue to its
// taker fee rate.
func NewPipeline(
	cfg Config,
	clients map[domain.Venue]domain.VenueClient,
	specsProvider domain.SpecsProvider,
	fees map[domain.Venue]float64,
	batcher *Batcher,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		clients: clients,
		specs:   specsProvider,
		fees:    fees,
		batcher: batcher,
		logger:  logger.With(slog.String("component", "sim_pipeline")),
	}
}

// Run consumes the opportunity queue with a worker pool until ctx is
// cancelled.
func (p *Pipeline) Run(ctx context.Context, in <-chan *domain.Opportunity) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case opp := <-in:
					if err := p.Simulate(ctx, opp); err != nil {
						p.logSkip(ctx, opp, err)
					}
				}
			}
		})
	}

	return g.Wait()
}

// Simulate runs one opportunity through fill, funding, and profit
// estimation, then adds it to the batcher. Rejections return an error and
// leave the batcher untouched.
func (p *Pipeline) Simulate(ctx context.Context, opp *domain.Opportunity) error {
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SimTimeout)
	defer cancel()

	longClient, ok := p.clients[opp.LongVenue]
	if !ok {
		return fmt.Errorf("sim: no client for venue %s", opp.LongVenue)
	}
	shortClient, ok := p.clients[opp.ShortVenue]
	if !ok {
		return fmt.Errorf("sim: no client for venue %s", opp.ShortVenue)
	}

	longBook, err := longClient.OrderBook(sctx, opp.LongSymbol, p.cfg.OrderBookDepth)
	if err != nil {
		return fmt.Errorf("sim: long book: %w", err)
	}
	shortBook, err := shortClient.OrderBook(sctx, opp.ShortSymbol, p.cfg.OrderBookDepth)
	if err != nil {
		return fmt.Errorf("sim: short book: %w", err)
	}

	longSpecs, err := p.specs.Specs(opp.LongVenue, opp.LongSymbol)
	if err != nil {
		return err
	}
	shortSpecs, err := p.specs.Specs(opp.ShortVenue, opp.ShortSymbol)
	if err != nil {
		return err
	}

	// The long leg lifts asks, the short leg hits bids.
	longFill, err := SimulateFill(longBook.Asks, p.cfg.PositionSizeUSD/opp.LongPrice, longSpecs.ContractValue)
	if err != nil {
		return fmt.Errorf("sim: long fill: %w", err)
	}
	shortFill, err := SimulateFill(shortBook.Bids, p.cfg.PositionSizeUSD/opp.ShortPrice, shortSpecs.ContractValue)
	if err != nil {
		return fmt.Errorf("sim: short fill: %w", err)
	}

	impact := math.Max(longFill.ImpactPct, shortFill.ImpactPct)
	if impact > p.cfg.MaxPriceImpactPct {
		return fmt.Errorf("sim: impact %.4f%% on %s: %w", impact, opp.Symbol, domain.ErrImpactTooHigh)
	}

	var funding float64
	if p.cfg.IncludeFunding {
		longRate, err := longClient.FundingRate(sctx, opp.LongSymbol)
		if err != nil {
			return fmt.Errorf("sim: long funding rate: %w", err)
		}
		shortRate, err := shortClient.FundingRate(sctx, opp.ShortSymbol)
		if err != nil {
			return fmt.Errorf("sim: short funding rate: %w", err)
		}
		funding = EstimateFunding(longRate, shortRate, p.cfg.PositionSizeUSD, p.cfg.HoldHours)
	}

	profit := ComputeProfit(ProfitInput{
		LongFillPrice:  longFill.VWAP,
		ShortFillPrice: shortFill.VWAP,
		Notional:       p.cfg.PositionSizeUSD,
		LongFeeRate:    p.fees[opp.LongVenue],
		ShortFeeRate:   p.fees[opp.ShortVenue],
		Funding:        funding,
	})

	opp.LongFillPrice = longFill.VWAP
	opp.ShortFillPrice = shortFill.VWAP
	opp.PriceImpactPct = impact
	opp.FundingEstimate = funding
	opp.GrossProfit = profit.GrossProfit
	opp.TotalFees = profit.TotalFees
	opp.NetProfit = profit.NetProfit
	opp.ProfitPercent = profit.ProfitPercent

	p.batcher.Add(opp)
	return nil
}

// logSkip records why a candidate dropped out; expected rejections stay at
// debug level.
func (p *Pipeline) logSkip(ctx context.Context, opp *domain.Opportunity, err error) {
	level := slog.LevelWarn
	if errors.Is(err, domain.ErrImpactTooHigh) || errors.Is(err, domain.ErrInsufficientDepth) {
		level = slog.LevelDebug
	}
	p.logger.Log(ctx, level, "opportunity skipped",
		slog.String("symbol", opp.Symbol),
		slog.String("long_venue", string(opp.LongVenue)),
		slog.String("error", err.Error()))
}
