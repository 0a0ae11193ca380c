// Package detector watches the merged quote stream for cross-venue price
// deltas, debounces them against flicker, and feeds a bounded opportunity
// queue.
package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/feed"
)

// Config tunes delta detection.
type Config struct {
	// MinDeltaPct is the raw delta threshold in percent.
	MinDeltaPct float64

	// MinDeltaLifetime is how long a delta must persist before it is emitted.
	MinDeltaLifetime time.Duration

	// CacheExpiration re-arms a delta that has been pending longer than this.
	CacheExpiration time.Duration

	// MaxQuoteAge discards updates whose quotes are older than this bound.
	MaxQuoteAge time.Duration

	// QueueSize bounds the opportunity queue.
	QueueSize int
}

// Refresher receives the symbol of every quote update so live positions get
// their PnL checks between periodic sweeps.
type Refresher interface {
	OnQuote(symbol string)
}

// cacheEntry tracks one persisting delta between first sighting and emission.
type cacheEntry struct {
	firstSeen time.Time
	emitted   bool
}

// Detector computes the raw delta for every quote update and emits
// opportunities that clear the threshold for the configured lifetime.
// A delta must neither be too young (flicker) nor too old (stale signal):
// the emit window is [MinDeltaLifetime, CacheExpiration] after first
// sighting.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	cache      map[domain.Triple]*cacheEntry
	out        chan *domain.Opportunity
	refreshers []Refresher

	dropped int64

	now func() time.Time
}

// New creates a Detector.
func New(cfg Config, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "detector")),
		cache:  make(map[domain.Triple]*cacheEntry),
		out:    make(chan *domain.Opportunity, cfg.QueueSize),
		now:    time.Now,
	}
}

// AddRefresher registers a consumer of per-update symbol kicks. Must be
// called before Run.
func (d *Detector) AddRefresher(r Refresher) {
	d.refreshers = append(d.refreshers, r)
}

// Opportunities returns the bounded queue of emitted opportunities.
func (d *Detector) Opportunities() <-chan *domain.Opportunity {
	return d.out
}

// Run consumes quote updates until ctx is cancelled.
func (d *Detector) Run(ctx context.Context, updates <-chan feed.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-updates:
			for _, r := range d.refreshers {
				r.OnQuote(u.Symbol)
			}
			if opp := d.Evaluate(u); opp != nil {
				d.enqueue(ctx, opp)
			}
		}
	}
}

// Evaluate computes the best directional delta for one update and applies
// the debounce cache. It returns a ready opportunity or nil.
func (d *Detector) Evaluate(u feed.Update) *domain.Opportunity {
	now := d.now()

	if u.Bybit.Age(now) > d.cfg.MaxQuoteAge || u.KuCoin.Age(now) > d.cfg.MaxQuoteAge {
		return nil
	}
	if u.Bybit.Ask <= 0 || u.KuCoin.Ask <= 0 {
		return nil
	}

	// Long on the venue with the cheaper ask, short on the venue with the
	// richer bid; evaluate both directions and keep the better one.
	longBybit := (u.KuCoin.Bid - u.Bybit.Ask) / u.Bybit.Ask * 100
	longKuCoin := (u.Bybit.Bid - u.KuCoin.Ask) / u.KuCoin.Ask * 100

	var (
		delta      float64
		longQuote  domain.Quote
		shortQuote domain.Quote
	)
	if longBybit >= longKuCoin {
		delta = longBybit
		longQuote, shortQuote = u.Bybit, u.KuCoin
	} else {
		delta = longKuCoin
		longQuote, shortQuote = u.KuCoin, u.Bybit
	}

	triple := domain.Triple{
		Symbol:     u.Symbol,
		LongVenue:  longQuote.Venue,
		ShortVenue: shortQuote.Venue,
	}

	if delta < d.cfg.MinDeltaPct {
		delete(d.cache, triple)
		return nil
	}

	entry, ok := d.cache[triple]
	if !ok {
		d.cache[triple] = &cacheEntry{firstSeen: now}
		return nil
	}

	age := now.Sub(entry.firstSeen)
	if age > d.cfg.CacheExpiration {
		// Too old to trust; re-arm and start a fresh observation window.
		entry.firstSeen = now
		entry.emitted = false
		return nil
	}
	if age < d.cfg.MinDeltaLifetime || entry.emitted {
		return nil
	}

	entry.emitted = true

	return &domain.Opportunity{
		Symbol:      u.Symbol,
		LongVenue:   longQuote.Venue,
		ShortVenue:  shortQuote.Venue,
		LongSymbol:  longQuote.Symbol,
		ShortSymbol: shortQuote.Symbol,
		LongPrice:   longQuote.Ask,
		ShortPrice:  shortQuote.Bid,
		RawDeltaPct: delta,
		DetectedAt:  now,
	}
}

// enqueue pushes an opportunity into the bounded queue, dropping with a log
// line when full.
func (d *Detector) enqueue(ctx context.Context, opp *domain.Opportunity) {
	select {
	case d.out <- opp:
	default:
		d.dropped++
		d.logger.WarnContext(ctx, "opportunity queue full, dropping",
			slog.String("symbol", opp.Symbol),
			slog.Float64("delta_pct", opp.RawDeltaPct),
			slog.Int64("dropped_total", d.dropped))
	}
}
