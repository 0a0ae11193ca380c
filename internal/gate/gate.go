// Package gate filters batched opportunities against per-symbol history:
// quarantine, stop-loss cooldowns, timeout cooldowns, and minimum profit.
package gate

import (
	"log/slog"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/position"
)

// Config tunes the signal gate.
type Config struct {
	// MinProfitUSD rejects opportunities whose simulated net is below this.
	MinProfitUSD float64

	// SLIgnoreWindow blocks a symbol after a stop-loss exit.
	SLIgnoreWindow time.Duration

	// CooldownAfterTimeout blocks a symbol after a hold-timeout exit.
	CooldownAfterTimeout time.Duration
}

// Gate decides whether a batch winner may proceed to the decision engine.
type Gate struct {
	cfg    Config
	book   *position.Book
	logger *slog.Logger

	now func() time.Time
}

// New creates a Gate backed by the shared position book.
func New(cfg Config, book *position.Book, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		book:   book,
		logger: logger.With(slog.String("component", "signal_gate")),
		now:    time.Now,
	}
}

// Check returns true when the opportunity may proceed. On rejection it
// returns false and the reason, and logs the verdict.
func (g *Gate) Check(opp *domain.Opportunity) (bool, string) {
	if reason := g.reject(opp); reason != "" {
		g.logger.Info("signal rejected",
			slog.String("symbol", opp.Symbol),
			slog.String("reason", reason),
			slog.Float64("net_profit", opp.NetProfit))
		return false, reason
	}
	return true, ""
}

func (g *Gate) reject(opp *domain.Opportunity) string {
	if g.book.IsQuarantined(opp.Symbol) {
		return domain.RejectQuarantine
	}

	// A symbol whose stop-loss already split the pair still has an orphaned
	// leg unwinding in failover. New entries would fight that unwind.
	if g.book.HasFailover(opp.Symbol) {
		return domain.RejectSLIgnored
	}

	now := g.now()
	if at, ok := g.book.LastStopLoss(opp.Symbol); ok && now.Sub(at) < g.cfg.SLIgnoreWindow {
		return domain.RejectRecentSL
	}
	if at, ok := g.book.LastTimeout(opp.Symbol); ok && now.Sub(at) < g.cfg.CooldownAfterTimeout {
		return domain.RejectTimeoutBlocked
	}

	if opp.NetProfit < g.cfg.MinProfitUSD {
		return domain.RejectLowProfit
	}
	return ""
}
