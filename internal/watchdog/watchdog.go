// Package watchdog blocks new entries when either venue cannot margin
// another position.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/notify"
)

// balanceRetries is how many consecutive read failures are tolerated before
// the last good value is reused for another cycle.
const balanceRetries = 3

// Config tunes the watchdog.
type Config struct {
	// PositionSizeUSD is the notional per leg.
	PositionSizeUSD float64

	// BalanceMarginPct is the safety margin on top of the notional.
	BalanceMarginPct float64

	// Leverage divides the notional into the actual margin requirement.
	// Values below 1 are treated as 1.
	Leverage float64

	// CheckInterval is the polling period.
	CheckInterval time.Duration
}

// Watchdog polls available balances and exposes a single blocked flag.
// Transitions in either direction are notified once, not every cycle.
type Watchdog struct {
	cfg      Config
	clients  map[domain.Venue]domain.VenueClient
	notifier *notify.Notifier
	logger   *slog.Logger

	mu       sync.RWMutex
	blocked  bool
	balances map[domain.Venue]float64
	failures map[domain.Venue]int
}

// New creates a Watchdog. It starts unblocked until the first check says
// otherwise.
func New(cfg Config, clients map[domain.Venue]domain.VenueClient, notifier *notify.Notifier, logger *slog.Logger) *Watchdog {
	return &Watchdog{
		cfg:      cfg,
		clients:  clients,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "balance_watchdog")),
		balances: make(map[domain.Venue]float64),
		failures: make(map[domain.Venue]int),
	}
}

// Blocked reports whether entries are currently blocked on margin.
func (w *Watchdog) Blocked() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.blocked
}

// Required returns the free balance each venue must hold.
func (w *Watchdog) Required() float64 {
	leverage := w.cfg.Leverage
	if leverage < 1 {
		leverage = 1
	}
	return w.cfg.PositionSizeUSD / leverage * (1 + w.cfg.BalanceMarginPct/100)
}

// Balances returns the last known balance per venue.
func (w *Watchdog) Balances() map[domain.Venue]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[domain.Venue]float64, len(w.balances))
	for v, b := range w.balances {
		out[v] = b
	}
	return out
}

// Run polls until ctx is cancelled. The first check fires immediately.
func (w *Watchdog) Run(ctx context.Context) error {
	w.Check(ctx)

	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check reads both venues and updates the blocked flag. A transient read
// failure reuses the last good value; only balanceRetries consecutive
// failures on a venue force a block.
func (w *Watchdog) Check(ctx context.Context) {
	required := w.Required()
	shortfall := false

	for venue, client := range w.clients {
		balance, err := client.AvailableBalance(ctx)
		if err != nil {
			w.mu.Lock()
			w.failures[venue]++
			fails := w.failures[venue]
			balance = w.balances[venue]
			w.mu.Unlock()

			w.logger.WarnContext(ctx, "balance read failed",
				slog.String("venue", string(venue)),
				slog.Int("consecutive", fails),
				slog.String("error", err.Error()))

			if fails >= balanceRetries {
				shortfall = true
				continue
			}
		} else {
			w.mu.Lock()
			w.failures[venue] = 0
			w.balances[venue] = balance
			w.mu.Unlock()
		}

		if balance < required {
			shortfall = true
			w.logger.WarnContext(ctx, "balance below requirement",
				slog.String("venue", string(venue)),
				slog.Float64("balance", balance),
				slog.Float64("required", required))
		}
	}

	w.transition(ctx, shortfall, required)
}

func (w *Watchdog) transition(ctx context.Context, shortfall bool, required float64) {
	w.mu.Lock()
	changed := w.blocked != shortfall
	w.blocked = shortfall
	w.mu.Unlock()

	if !changed {
		return
	}

	if shortfall {
		w.notifier.Notify(ctx, notify.EventBalanceBlocked,
			"Entries blocked on balance",
			fmt.Sprintf("a venue dropped below the required %.2f USDT", required))
		w.logger.WarnContext(ctx, "entries blocked", slog.Float64("required", required))
	} else {
		w.notifier.Notify(ctx, notify.EventBalanceRestored,
			"Entries unblocked",
			fmt.Sprintf("all venues back above %.2f USDT", required))
		w.logger.InfoContext(ctx, "entries unblocked", slog.Float64("required", required))
	}
}
