package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/notify"
)

// Config tunes the lifecycle checks.
type Config struct {
	// TakeProfitUSD closes the pair when combined net PnL reaches it.
	TakeProfitUSD float64

	// StopLossPct splits the pair when a single leg loses this percentage of
	// the position notional.
	StopLossPct float64

	// MaxHoldTime closes the pair regardless of PnL.
	MaxHoldTime time.Duration

	// CheckInterval is the lifecycle polling period.
	CheckInterval time.Duration

	// OrderTimeout bounds each close order.
	OrderTimeout time.Duration

	// Params is the strategy parameter snapshot stamped on ledger records.
	Params map[string]string
}

// FailoverAdopter takes ownership of the surviving leg after a stop-loss
// split.
type FailoverAdopter interface {
	Adopt(ctx context.Context, pos *domain.Position, fp *domain.FailoverPosition)
}

// Manager polls open pairs and closes them on take profit, stop loss, or
// hold timeout. Stop losses split the pair: the losing leg is closed and the
// survivor is handed to the failover manager.
type Manager struct {
	cfg      Config
	clients  map[domain.Venue]domain.VenueClient
	book     *Book
	ledgers  []domain.TradeLedger
	failover FailoverAdopter
	notifier *notify.Notifier
	logger   *slog.Logger

	kicks chan string

	now func() time.Time
}

// NewManager creates a Manager.
func NewManager(
	cfg Config,
	clients map[domain.Venue]domain.VenueClient,
	book *Book,
	ledgers []domain.TradeLedger,
	failover FailoverAdopter,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		clients:  clients,
		book:     book,
		ledgers:  ledgers,
		failover: failover,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "position_manager")),
		kicks:    make(chan string, 64),
		now:      time.Now,
	}
}

// OnQuote requests an immediate check of the open pair on symbol. It never
// blocks; a dropped kick is covered by the next periodic sweep.
func (m *Manager) OnQuote(symbol string) {
	select {
	case m.kicks <- symbol:
	default:
	}
}

// Track registers a freshly opened position, writes the open record, and
// notifies operators.
func (m *Manager) Track(ctx context.Context, pos *domain.Position) {
	m.book.Register(pos)
	m.recordOpen(ctx, pos)

	m.notifier.Notify(ctx, notify.EventPositionOpened,
		fmt.Sprintf("Opened %s", pos.Symbol),
		fmt.Sprintf("long %s / short %s, notional %.2f USDT",
			pos.LongVenue, pos.ShortVenue, pos.PositionNotional))

	m.logger.InfoContext(ctx, "position tracked",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol))
}

// Run polls the book every CheckInterval until ctx is cancelled, then closes
// every remaining pair.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		case symbol := <-m.kicks:
			m.checkSymbol(ctx, symbol)
		}
	}
}

// Tick runs one lifecycle pass over all open positions.
func (m *Manager) Tick(ctx context.Context) {
	for _, pos := range m.book.List() {
		if pos.Status == domain.PositionStatusOpen {
			m.check(ctx, pos)
		}
	}
}

// checkSymbol runs a quote-triggered check limited to the pair on symbol.
func (m *Manager) checkSymbol(ctx context.Context, symbol string) {
	for _, pos := range m.book.List() {
		if pos.Symbol == symbol && pos.Status == domain.PositionStatusOpen {
			m.check(ctx, pos)
		}
	}
}

// check evaluates one pair against the hold timeout, take profit, and stop
// loss, in that order. The timeout comes first so a pair never outlives
// max_hold_time just because a venue keeps feeding it unusable PnL reads.
func (m *Manager) check(ctx context.Context, pos *domain.Position) {
	if pos.HoldDuration(m.now()) >= m.cfg.MaxHoldTime {
		m.closePair(ctx, pos, domain.ExitReasonTimeout)
		return
	}

	pnlLong, pnlShort, err := m.legPnls(ctx, pos)
	if err != nil {
		m.logger.WarnContext(ctx, "pnl read failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()))
		return
	}
	// A zero on either leg is a session glitch, not a real flat leg. Acting
	// on it would split or close the pair on phantom numbers, so the
	// position sits out this check.
	if pnlLong == 0 || pnlShort == 0 {
		m.logger.WarnContext(ctx, "zero pnl read, skipping check",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.Float64("pnl_long", pnlLong),
			slog.Float64("pnl_short", pnlShort))
		return
	}

	net := pnlLong + pnlShort - 2*pos.EntryFee - pos.FundingAccrued
	if net >= m.cfg.TakeProfitUSD {
		m.closePair(ctx, pos, domain.ExitReasonTakeProfit)
		return
	}

	notional := pos.PositionNotional
	pctLong := pnlLong / notional * 100
	pctShort := pnlShort / notional * 100

	if pctLong <= -m.cfg.StopLossPct || pctShort <= -m.cfg.StopLossPct {
		m.splitPair(ctx, pos, pnlLong, pnlShort)
	}
}

// CloseAll flattens every open pair, used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, pos := range m.book.List() {
		if pos.Status == domain.PositionStatusOpen {
			m.closePair(ctx, pos, domain.ExitReasonShutdown)
		}
	}
}

func (m *Manager) legPnls(ctx context.Context, pos *domain.Position) (float64, float64, error) {
	long, err := m.clients[pos.LongVenue].UnrealizedPnl(ctx, pos.LongSymbol, domain.DirectionLong)
	if err != nil {
		return 0, 0, fmt.Errorf("position: long pnl: %w", err)
	}
	short, err := m.clients[pos.ShortVenue].UnrealizedPnl(ctx, pos.ShortSymbol, domain.DirectionShort)
	if err != nil {
		return 0, 0, fmt.Errorf("position: short pnl: %w", err)
	}
	return long, short, nil
}

// closePair flattens both legs and finalizes the position.
func (m *Manager) closePair(ctx context.Context, pos *domain.Position, reason string) {
	pos.Status = domain.PositionStatusClosing

	var (
		wg                sync.WaitGroup
		longErr, shortErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		longErr = m.closeLeg(ctx, pos.LongVenue, pos.LongSymbol, domain.DirectionLong, pos.QtyLong)
	}()
	go func() {
		defer wg.Done()
		shortErr = m.closeLeg(ctx, pos.ShortVenue, pos.ShortSymbol, domain.DirectionShort, pos.QtyShort)
	}()
	wg.Wait()

	if longErr != nil || shortErr != nil {
		pos.Status = domain.PositionStatusError
		pos.ExitReason = domain.ExitReasonOrderError
		pos.ExitTime = m.now()
		m.book.Quarantine(pos.Symbol)
		m.book.Remove(pos.ID)
		m.logger.ErrorContext(ctx, "pair close failed, symbol quarantined",
			slog.String("position_id", pos.ID),
			slog.String("symbol", pos.Symbol),
			slog.Any("long_error", longErr),
			slog.Any("short_error", shortErr))
		m.notifier.Notify(ctx, notify.EventOrderError,
			fmt.Sprintf("Close failed: %s", pos.Symbol),
			fmt.Sprintf("position %s left in error state", pos.ID))
		m.recordClose(ctx, pos)
		return
	}

	pos.FinalPnlLong = m.closedPnl(ctx, pos.LongVenue, pos.LongSymbol, domain.DirectionLong)
	pos.FinalPnlShort = m.closedPnl(ctx, pos.ShortVenue, pos.ShortSymbol, domain.DirectionShort)
	pos.FinalPnlTotal = pos.FinalPnlLong + pos.FinalPnlShort
	pos.ExitTime = m.now()
	pos.ExitReason = reason
	pos.Status = domain.PositionStatusClosed

	if reason == domain.ExitReasonTimeout {
		m.book.MarkTimeout(pos.Symbol, pos.ExitTime)
	}
	m.book.Remove(pos.ID)
	m.recordClose(ctx, pos)

	m.notifier.Notify(ctx, notify.EventPositionClosed,
		fmt.Sprintf("Closed %s (%s)", pos.Symbol, reason),
		fmt.Sprintf("final PnL %.4f USDT after %s", pos.FinalPnlTotal, pos.ExitTime.Sub(pos.EntryTime).Round(time.Second)))

	m.logger.InfoContext(ctx, "pair closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("final_pnl", pos.FinalPnlTotal))
}

// splitPair closes the losing leg and hands the survivor to the failover
// manager.
func (m *Manager) splitPair(ctx context.Context, pos *domain.Position, pnlLong, pnlShort float64) {
	losingDir := domain.DirectionLong
	if pnlShort < pnlLong {
		losingDir = domain.DirectionShort
	}

	var (
		losingVenue, survivorVenue   domain.Venue
		losingSymbol, survivorSymbol string
		survivorDir                  domain.Direction
		losingQty, survivorQty       float64
		losingPnl, survivorPnl       float64
	)
	if losingDir == domain.DirectionLong {
		losingVenue, losingSymbol, losingQty, losingPnl = pos.LongVenue, pos.LongSymbol, pos.QtyLong, pnlLong
		survivorVenue, survivorSymbol, survivorQty, survivorPnl = pos.ShortVenue, pos.ShortSymbol, pos.QtyShort, pnlShort
		survivorDir = domain.DirectionShort
	} else {
		losingVenue, losingSymbol, losingQty, losingPnl = pos.ShortVenue, pos.ShortSymbol, pos.QtyShort, pnlShort
		survivorVenue, survivorSymbol, survivorQty, survivorPnl = pos.LongVenue, pos.LongSymbol, pos.QtyLong, pnlLong
		survivorDir = domain.DirectionLong
	}

	m.logger.WarnContext(ctx, "stop loss hit, splitting pair",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("losing_leg", string(losingDir)),
		slog.Float64("losing_pnl", losingPnl))

	if err := m.closeLeg(ctx, losingVenue, losingSymbol, losingDir, losingQty); err != nil {
		// A market order for the full size can bounce when fills already
		// shrank the leg. Re-read the live size and retry once with it.
		size, sizeErr := m.clients[losingVenue].PositionSize(ctx, losingSymbol)
		switch {
		case sizeErr == nil && size == 0:
			// Already flat, the first order raced a fill.
		case sizeErr == nil && size > 0:
			if err := m.closeLeg(ctx, losingVenue, losingSymbol, losingDir, size); err != nil {
				m.failSplit(ctx, pos, err)
				return
			}
		default:
			m.failSplit(ctx, pos, err)
			return
		}
	}

	startPnl := m.closedPnl(ctx, losingVenue, losingSymbol, losingDir)
	if startPnl == 0 {
		// Settlement did not land in time; the last observed mark is the
		// best available estimate.
		startPnl = losingPnl
	}

	now := m.now()
	fp := &domain.FailoverPosition{
		PositionID:       pos.ID,
		Venue:            survivorVenue,
		Symbol:           survivorSymbol,
		Direction:        survivorDir,
		EntryPrice:       pos.EntryPrices[survivorVenue],
		Qty:              survivorQty,
		StartPnl:         startPnl,
		CurrentPnl:       survivorPnl,
		MaxPnl:           survivorPnl,
		EntryFee:         pos.EntryFee,
		Funding:          pos.FundingAccrued,
		PositionNotional: pos.PositionNotional,
		EntryTime:        now,
		Status:           domain.FailoverStatusActive,
	}

	pos.Status = domain.PositionStatusFailover
	pos.ExitReason = domain.ExitReasonStopLoss
	m.book.MarkStopLoss(pos.Symbol, now)
	m.book.SetFailoverActive(pos.Symbol, true)
	m.book.Remove(pos.ID)

	m.failover.Adopt(ctx, pos, fp)

	m.notifier.Notify(ctx, notify.EventStopLoss,
		fmt.Sprintf("Stop loss: %s", pos.Symbol),
		fmt.Sprintf("%s leg closed at %.4f USDT, %s leg in failover", losingDir, startPnl, survivorDir))
}

func (m *Manager) failSplit(ctx context.Context, pos *domain.Position, err error) {
	pos.Status = domain.PositionStatusError
	pos.ExitReason = domain.ExitReasonOrderError
	pos.ExitTime = m.now()
	m.book.Quarantine(pos.Symbol)
	m.book.Remove(pos.ID)
	m.logger.ErrorContext(ctx, "stop loss split failed, symbol quarantined",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("error", err.Error()))
	m.notifier.Notify(ctx, notify.EventOrderError,
		fmt.Sprintf("Split failed: %s", pos.Symbol),
		err.Error())
	m.recordClose(ctx, pos)
}

func (m *Manager) closeLeg(ctx context.Context, venue domain.Venue, symbol string, dir domain.Direction, qty float64) error {
	octx, cancel := context.WithTimeout(ctx, m.cfg.OrderTimeout)
	defer cancel()

	_, err := m.clients[venue].PlaceMarketOrder(octx, symbol, dir.CloseSide(), qty, true)
	if err != nil {
		return fmt.Errorf("position: close %s %s leg: %w", symbol, dir, err)
	}
	return nil
}

// closedPnl fetches settled PnL, logging instead of failing: a missing value
// degrades reporting, not safety.
func (m *Manager) closedPnl(ctx context.Context, venue domain.Venue, symbol string, dir domain.Direction) float64 {
	pnl, err := m.clients[venue].ClosedPnl(ctx, symbol, dir)
	if err != nil {
		m.logger.WarnContext(ctx, "closed pnl unavailable",
			slog.String("venue", string(venue)),
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return 0
	}
	return pnl
}

func (m *Manager) recordOpen(ctx context.Context, pos *domain.Position) {
	rec := domain.TradeRecord{
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		OpenedAt:   pos.EntryTime,
		Params:     m.cfg.Params,
	}
	for _, l := range m.ledgers {
		if err := l.RecordOpen(ctx, rec); err != nil {
			m.logger.WarnContext(ctx, "ledger open record failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (m *Manager) recordClose(ctx context.Context, pos *domain.Position) {
	dur := pos.ExitTime.Sub(pos.EntryTime)
	rec := domain.TradeRecord{
		PositionID:     pos.ID,
		Symbol:         pos.Symbol,
		OpenedAt:       pos.EntryTime,
		ClosedAt:       pos.ExitTime,
		FinalPnl:       pos.FinalPnlTotal,
		TotalDuration:  dur,
		PairExitReason: pos.ExitReason,
		PairDuration:   dur,
		PairPnl:        pos.FinalPnlTotal,
		Params:         m.cfg.Params,
	}
	for _, l := range m.ledgers {
		if err := l.RecordClose(ctx, rec); err != nil {
			m.logger.WarnContext(ctx, "ledger close record failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		}
	}
}
