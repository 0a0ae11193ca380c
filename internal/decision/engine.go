// Package decision admits gated opportunities against portfolio limits and
// drives pair entry through the executor.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/gate"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/notify"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/position"
)

// PairOpener places both entry legs of an opportunity.
type PairOpener interface {
	OpenPair(ctx context.Context, opp *domain.Opportunity) (*domain.Position, error)
}

// BalanceGuard reports whether entries are currently blocked on margin.
type BalanceGuard interface {
	Blocked() bool
}

// Tracker takes ownership of a freshly opened position.
type Tracker interface {
	Track(ctx context.Context, pos *domain.Position)
}

// Config tunes the decision engine.
type Config struct {
	// MaxParallelPositions caps open pairs, in-flight entries, and active
	// failover legs combined.
	MaxParallelPositions int
}

// Engine is the last stop before real orders: it re-checks the signal gate,
// portfolio limits, and balance state, claims the triple, and opens the pair.
type Engine struct {
	cfg      Config
	gate     *gate.Gate
	book     *position.Book
	opener   PairOpener
	balance  BalanceGuard
	tracker  Tracker
	notifier *notify.Notifier
	logger   *slog.Logger
}

// New creates an Engine.
func New(
	cfg Config,
	g *gate.Gate,
	book *position.Book,
	opener PairOpener,
	balance BalanceGuard,
	tracker Tracker,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		gate:     g,
		book:     book,
		opener:   opener,
		balance:  balance,
		tracker:  tracker,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "decision_engine")),
	}
}

// Run consumes batch winners until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, in <-chan *domain.Opportunity) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp := <-in:
			if opp == nil {
				continue
			}
			e.Process(ctx, opp)
		}
	}
}

// Process runs one opportunity through the gate and portfolio checks and, if
// admitted, opens the pair. It returns the rejection reason, or "" when a
// position was opened.
func (e *Engine) Process(ctx context.Context, opp *domain.Opportunity) string {
	if ok, reason := e.gate.Check(opp); !ok {
		return reason
	}

	triple := opp.Triple()
	if e.book.HasTriple(triple) {
		e.logReject(ctx, opp, domain.RejectDuplicate)
		return domain.RejectDuplicate
	}

	// Failover legs are out of the positions map but still tie up margin on
	// one venue, so they count toward the cap alongside open and in-flight
	// pairs.
	if e.book.OpenCount()+e.book.FailoverCount() >= e.cfg.MaxParallelPositions {
		e.logReject(ctx, opp, domain.RejectTooManyPositions)
		return domain.RejectTooManyPositions
	}

	if e.balance != nil && e.balance.Blocked() {
		e.logReject(ctx, opp, domain.RejectBalanceBlocked)
		return domain.RejectBalanceBlocked
	}

	// The pending claim is the atomic arbiter against a racing worker; the
	// claim is released whatever the entry outcome.
	if !e.book.TryMarkPending(triple) {
		e.logReject(ctx, opp, domain.RejectDuplicate)
		return domain.RejectDuplicate
	}
	defer e.book.ClearPending(triple)

	pos, err := e.opener.OpenPair(ctx, opp)
	if err != nil {
		e.handleEntryFailure(ctx, opp, err)
		return domain.ExitReasonOrderError
	}

	e.tracker.Track(ctx, pos)
	return ""
}

func (e *Engine) handleEntryFailure(ctx context.Context, opp *domain.Opportunity, err error) {
	if errors.Is(err, domain.ErrResidualPosition) {
		// A leg may still be live on one venue. Bar the symbol until an
		// operator has checked both books.
		e.book.Quarantine(opp.Symbol)
		e.logger.ErrorContext(ctx, "symbol quarantined after failed reversal",
			slog.String("symbol", opp.Symbol),
			slog.String("error", err.Error()))
	}

	event := notify.EventOrderError
	if errors.Is(err, domain.ErrOrderTimeout) {
		event = notify.EventOrderTimeout
	}
	e.notifier.Notify(ctx, event,
		fmt.Sprintf("Entry failed: %s", opp.Symbol),
		err.Error())
}

func (e *Engine) logReject(ctx context.Context, opp *domain.Opportunity, reason string) {
	e.logger.InfoContext(ctx, "signal rejected",
		slog.String("symbol", opp.Symbol),
		slog.String("reason", reason),
		slog.Float64("net_profit", opp.NetProfit))
}
