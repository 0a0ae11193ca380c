package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// Config tunes pair entry.
type Config struct {
	// PositionSizeUSD is the notional per leg.
	PositionSizeUSD float64

	// OrderTimeout bounds both entry orders together. A leg that has not
	// filled when it expires is cancelled and any filled leg is reversed.
	OrderTimeout time.Duration
}

// Executor places the two entry legs of an opportunity.
type Executor struct {
	cfg     Config
	clients map[domain.Venue]domain.VenueClient
	specs   domain.SpecsProvider
	logger  *slog.Logger

	newID func() string
	now   func() time.Time
}

// New creates an Executor.
func New(cfg Config, clients map[domain.Venue]domain.VenueClient, specsProvider domain.SpecsProvider, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		clients: clients,
		specs:   specsProvider,
		logger:  logger.With(slog.String("component", "executor")),
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

type legOutcome struct {
	res domain.OrderResult
	err error
}

// OpenPair fires both entry legs concurrently under a shared deadline and
// returns the resulting position. When only one leg fills, that leg is
// reversed with a reduce-only order and an error is returned: wrapping
// ErrOrderTimeout when the deadline expired, ErrOrderRejected otherwise,
// and additionally ErrResidualPosition when the reversal itself failed.
func (e *Executor) OpenPair(ctx context.Context, opp *domain.Opportunity) (*domain.Position, error) {
	longClient, ok := e.clients[opp.LongVenue]
	if !ok {
		return nil, fmt.Errorf("executor: no client for venue %s", opp.LongVenue)
	}
	shortClient, ok := e.clients[opp.ShortVenue]
	if !ok {
		return nil, fmt.Errorf("executor: no client for venue %s", opp.ShortVenue)
	}

	longSpecs, err := e.specs.Specs(opp.LongVenue, opp.LongSymbol)
	if err != nil {
		return nil, err
	}
	shortSpecs, err := e.specs.Specs(opp.ShortVenue, opp.ShortSymbol)
	if err != nil {
		return nil, err
	}

	qtyLong, err := LegQty(e.cfg.PositionSizeUSD, opp.LongPrice, longSpecs)
	if err != nil {
		return nil, fmt.Errorf("executor: long leg %s: %w", opp.LongSymbol, err)
	}
	qtyShort, err := LegQty(e.cfg.PositionSizeUSD, opp.ShortPrice, shortSpecs)
	if err != nil {
		return nil, fmt.Errorf("executor: short leg %s: %w", opp.ShortSymbol, err)
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	var (
		wg          sync.WaitGroup
		long, short legOutcome
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		long.res, long.err = longClient.PlaceMarketOrder(octx, opp.LongSymbol, domain.SideBuy, qtyLong, false)
	}()
	go func() {
		defer wg.Done()
		short.res, short.err = shortClient.PlaceMarketOrder(octx, opp.ShortSymbol, domain.SideSell, qtyShort, false)
	}()
	wg.Wait()

	if long.err == nil && short.err == nil {
		now := e.now()
		pos := &domain.Position{
			ID:          e.newID(),
			Symbol:      opp.Symbol,
			LongVenue:   opp.LongVenue,
			ShortVenue:  opp.ShortVenue,
			LongSymbol:  opp.LongSymbol,
			ShortSymbol: opp.ShortSymbol,
			EntryPrices: map[domain.Venue]float64{
				opp.LongVenue:  opp.LongFillPrice,
				opp.ShortVenue: opp.ShortFillPrice,
			},
			QtyLong:          long.res.FilledQty,
			QtyShort:         short.res.FilledQty,
			EntryFee:         opp.TotalFees / 2,
			FundingAccrued:   opp.FundingEstimate,
			PositionNotional: e.cfg.PositionSizeUSD,
			EntryTime:        now,
			Status:           domain.PositionStatusOpen,
			LastPrice:        make(map[domain.Venue]float64),
		}
		e.logger.Info("pair opened",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.Float64("qty_long", pos.QtyLong),
			slog.Float64("qty_short", pos.QtyShort),
			slog.Float64("net_expected", opp.NetProfit))
		return pos, nil
	}

	entryErr := errors.Join(long.err, short.err)
	base := domain.ErrOrderRejected
	if errors.Is(entryErr, context.DeadlineExceeded) {
		base = domain.ErrOrderTimeout
	}

	// Reverse whatever filled so the book ends flat. The reversal runs on a
	// fresh deadline detached from both the entry deadline and shutdown.
	var reverseErr error
	if long.err == nil {
		reverseErr = errors.Join(reverseErr,
			e.reverseLeg(ctx, longClient, opp.LongSymbol, domain.DirectionLong, long.res.FilledQty))
	}
	if short.err == nil {
		reverseErr = errors.Join(reverseErr,
			e.reverseLeg(ctx, shortClient, opp.ShortSymbol, domain.DirectionShort, short.res.FilledQty))
	}

	e.logger.Error("pair entry failed",
		slog.String("symbol", opp.Symbol),
		slog.Bool("long_filled", long.err == nil),
		slog.Bool("short_filled", short.err == nil),
		slog.String("error", entryErr.Error()))

	if reverseErr != nil {
		return nil, fmt.Errorf("executor: entry failed on %s (%v), reversal failed (%v): %w",
			opp.Symbol, entryErr, reverseErr, errors.Join(base, domain.ErrResidualPosition))
	}
	return nil, fmt.Errorf("executor: entry failed on %s, filled leg reversed: %w", opp.Symbol, errors.Join(base, entryErr))
}

func (e *Executor) reverseLeg(ctx context.Context, client domain.VenueClient, symbol string, dir domain.Direction, qty float64) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.OrderTimeout)
	defer cancel()

	_, err := client.PlaceMarketOrder(rctx, symbol, dir.CloseSide(), qty, true)
	if err != nil {
		return fmt.Errorf("executor: reverse %s %s leg: %w", symbol, dir, err)
	}
	e.logger.Warn("single leg reversed",
		slog.String("symbol", symbol),
		slog.String("venue", string(client.Name())),
		slog.String("direction", string(dir)),
		slog.Float64("qty", qty))
	return nil
}
