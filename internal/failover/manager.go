// Package failover unwinds the surviving leg after a stop-loss split using a
// trailing stop anchored at the realized loss of the closed leg.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/notify"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/position"
)

// Config tunes the failover exits.
type Config struct {
	// TrailingStopPct is the trailing distance in percent of notional.
	TrailingStopPct float64

	// InitialTakeProfitPct closes the leg outright at this percent of
	// notional.
	InitialTakeProfitPct float64

	// CheckInterval is the polling period.
	CheckInterval time.Duration

	// OrderTimeout bounds the close order.
	OrderTimeout time.Duration
}

type entry struct {
	pos *domain.Position
	fp  *domain.FailoverPosition
}

// Manager owns all active failover positions.
type Manager struct {
	cfg      Config
	clients  map[domain.Venue]domain.VenueClient
	book     *position.Book
	ledgers  []domain.TradeLedger
	notifier *notify.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry // position ID -> entry

	kicks chan string

	now func() time.Time
}

// NewManager creates a Manager.
func NewManager(
	cfg Config,
	clients map[domain.Venue]domain.VenueClient,
	book *position.Book,
	ledgers []domain.TradeLedger,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		cfg:      cfg,
		clients:  clients,
		book:     book,
		ledgers:  ledgers,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "failover_manager")),
		entries:  make(map[string]*entry),
		kicks:    make(chan string, 64),
		now:      time.Now,
	}
}

// OnQuote requests an immediate check of the failover leg on symbol. It never
// blocks; a dropped kick is covered by the next periodic sweep.
func (m *Manager) OnQuote(symbol string) {
	select {
	case m.kicks <- symbol:
	default:
	}
}

// Adopt takes ownership of a surviving leg. The trailing stop starts below
// the realized loss of the closed leg so the survivor has room to claw it
// back, and only ratchets upward from there.
func (m *Manager) Adopt(ctx context.Context, pos *domain.Position, fp *domain.FailoverPosition) {
	fp.TrailingStopPnl = fp.StartPnl - fp.PositionNotional*m.cfg.TrailingStopPct/100
	fp.InitialTakeProfitPnl = fp.PositionNotional * m.cfg.InitialTakeProfitPct / 100

	m.mu.Lock()
	m.entries[fp.PositionID] = &entry{pos: pos, fp: fp}
	m.mu.Unlock()

	m.notifier.Notify(ctx, notify.EventFailoverOpened,
		fmt.Sprintf("Failover: %s", pos.Symbol),
		fmt.Sprintf("%s %s leg riding, start %.4f, trailing stop %.4f, take profit %.4f",
			fp.Venue, fp.Direction, fp.StartPnl, fp.TrailingStopPnl, fp.InitialTakeProfitPnl))

	m.logger.InfoContext(ctx, "failover adopted",
		slog.String("position_id", fp.PositionID),
		slog.String("symbol", pos.Symbol),
		slog.Float64("start_pnl", fp.StartPnl),
		slog.Float64("trailing_stop", fp.TrailingStopPnl))
}

// Active returns a snapshot of the failover positions.
func (m *Manager) Active() []*domain.FailoverPosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.FailoverPosition, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.fp)
	}
	return out
}

// Run polls every CheckInterval until ctx is cancelled, then closes all
// remaining failover legs.
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
			for _, e := range m.snapshot() {
				if e.pos.Symbol == symbol {
					m.check(ctx, e)
				}
			}
		}
	}
}

// Tick evaluates every failover leg. A zero PnL read skips only that
// position; other legs keep their checks.
func (m *Manager) Tick(ctx context.Context) {
	for _, e := range m.snapshot() {
		m.check(ctx, e)
	}
}

func (m *Manager) snapshot() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// check refreshes one leg's PnL, ratchets the trailing stop, and fires an
// exit when a threshold is crossed.
func (m *Manager) check(ctx context.Context, e *entry) {
	fp := e.fp
	pnl, err := m.clients[fp.Venue].UnrealizedPnl(ctx, fp.Symbol, fp.Direction)
	if err != nil {
		m.logger.WarnContext(ctx, "failover pnl read failed",
			slog.String("position_id", fp.PositionID),
			slog.String("error", err.Error()))
		return
	}
	if pnl == 0 {
		m.logger.DebugContext(ctx, "zero failover pnl, skipping position",
			slog.String("position_id", fp.PositionID))
		return
	}

	fp.CurrentPnl = pnl
	if pnl > fp.MaxPnl {
		fp.MaxPnl = pnl
		if stop := fp.MaxPnl - fp.PositionNotional*m.cfg.TrailingStopPct/100; stop > fp.TrailingStopPnl {
			fp.TrailingStopPnl = stop
		}
	}

	switch {
	case pnl >= fp.InitialTakeProfitPnl:
		m.close(ctx, e, domain.ExitReasonFailoverTP)
	case pnl <= fp.TrailingStopPnl:
		m.close(ctx, e, domain.ExitReasonTrailingStop)
	}
}

// CloseAll flattens every failover leg, used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	for _, e := range m.snapshot() {
		m.close(ctx, e, domain.ExitReasonShutdown)
	}
}

// close flattens the leg and reconciles the original pair: the final total
// is the failover result plus the realized loss the split left behind.
func (m *Manager) close(ctx context.Context, e *entry, reason string) {
	fp, pos := e.fp, e.pos
	client := m.clients[fp.Venue]

	if err := m.closeLeg(ctx, client, fp); err != nil {
		size, sizeErr := client.PositionSize(ctx, fp.Symbol)
		switch {
		case sizeErr == nil && size == 0:
			// Already flat.
		case sizeErr == nil && size > 0:
			fp.Qty = size
			if err := m.closeLeg(ctx, client, fp); err != nil {
				m.logger.ErrorContext(ctx, "failover close failed",
					slog.String("position_id", fp.PositionID),
					slog.String("error", err.Error()))
				m.notifier.Notify(ctx, notify.EventOrderError,
					fmt.Sprintf("Failover close failed: %s", pos.Symbol), err.Error())
				return
			}
		default:
			m.logger.ErrorContext(ctx, "failover close failed",
				slog.String("position_id", fp.PositionID),
				slog.String("error", err.Error()))
			return
		}
	}

	now := m.now()
	finalPnl, err := client.ClosedPnl(ctx, fp.Symbol, fp.Direction)
	if err != nil || finalPnl == 0 {
		finalPnl = fp.CurrentPnl
	}

	fp.FinalPnl = finalPnl
	fp.ExitTime = now
	fp.ExitReason = reason
	fp.Status = domain.FailoverStatusClosed

	pos.FinalPnlTotal = fp.FinalPnl + fp.StartPnl
	pos.ExitTime = now
	pos.Status = domain.PositionStatusClosed

	m.mu.Lock()
	delete(m.entries, fp.PositionID)
	m.mu.Unlock()
	m.book.SetFailoverActive(pos.Symbol, false)

	m.recordClose(ctx, pos, fp)

	m.notifier.Notify(ctx, notify.EventFailoverClosed,
		fmt.Sprintf("Failover closed: %s (%s)", pos.Symbol, reason),
		fmt.Sprintf("failover %.4f + pair %.4f = total %.4f USDT",
			fp.FinalPnl, fp.StartPnl, pos.FinalPnlTotal))

	m.logger.InfoContext(ctx, "failover closed",
		slog.String("position_id", fp.PositionID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("failover_pnl", fp.FinalPnl),
		slog.Float64("total_pnl", pos.FinalPnlTotal))
}

func (m *Manager) closeLeg(ctx context.Context, client domain.VenueClient, fp *domain.FailoverPosition) error {
	octx, cancel := context.WithTimeout(ctx, m.cfg.OrderTimeout)
	defer cancel()

	_, err := client.PlaceMarketOrder(octx, fp.Symbol, fp.Direction.CloseSide(), fp.Qty, true)
	if err != nil {
		return fmt.Errorf("failover: close %s %s leg: %w", fp.Symbol, fp.Direction, err)
	}
	return nil
}

func (m *Manager) recordClose(ctx context.Context, pos *domain.Position, fp *domain.FailoverPosition) {
	rec := domain.TradeRecord{
		PositionID:         pos.ID,
		Symbol:             pos.Symbol,
		OpenedAt:           pos.EntryTime,
		ClosedAt:           pos.ExitTime,
		FinalPnl:           pos.FinalPnlTotal,
		TotalDuration:      pos.ExitTime.Sub(pos.EntryTime),
		PairExitReason:     domain.ExitReasonStopLoss,
		PairDuration:       fp.EntryTime.Sub(pos.EntryTime),
		PairPnl:            fp.StartPnl,
		FailoverExitReason: fp.ExitReason,
		FailoverDuration:   fp.ExitTime.Sub(fp.EntryTime),
		FailoverPnl:        fp.FinalPnl,
	}
	for _, l := range m.ledgers {
		if err := l.RecordClose(ctx, rec); err != nil {
			m.logger.WarnContext(ctx, "ledger close record failed",
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()))
		}
	}
}
