// Package feed merges the per-venue WebSocket ticker streams into one
// canonical quote stream for the delta detector, and mirrors quotes into the
// optional Redis cache off the hot path.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/cache/redis"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/platform/bybit"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/platform/kucoin"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/specs"
)

// updateBuffer bounds the outbound update channel. The detector drains it
// quickly; overflow drops the tick, the next one carries fresher prices
// anyway.
const updateBuffer = 1024

// mirrorBuffer bounds the cache mirror queue.
const mirrorBuffer = 4096

// Update carries the latest quotes for one canonical symbol on both venues.
// It is emitted every time either side ticks, once both sides have quoted.
type Update struct {
	Symbol string
	Bybit  domain.Quote
	KuCoin domain.Quote
}

// Feed runs both venue WebSocket clients and fans their ticks into a single
// Update stream keyed by canonical symbol.
type Feed struct {
	bybitWS  *bybit.WSClient
	kucoinWS *kucoin.WSClient
	pairs    []specs.Pair
	cache    *redis.QuoteCache // nil when Redis is disabled
	logger   *slog.Logger

	// canonical maps (venue, venue-native symbol) -> canonical symbol.
	canonical map[domain.Venue]map[string]string

	mu   sync.RWMutex
	book map[domain.Venue]map[string]domain.Quote // keyed by canonical symbol

	updates chan Update
	mirror  chan domain.Quote
}

// New creates a Feed over the given WebSocket clients and matched pairs.
// cache may be nil to disable mirroring.
func New(bybitWS *bybit.WSClient, kucoinWS *kucoin.WSClient, pairs []specs.Pair, cache *redis.QuoteCache, logger *slog.Logger) *Feed {
	canonical := map[domain.Venue]map[string]string{
		domain.VenueBybit:  make(map[string]string, len(pairs)),
		domain.VenueKuCoin: make(map[string]string, len(pairs)),
	}
	for _, p := range pairs {
		canonical[domain.VenueBybit][p.BybitSymbol] = p.Symbol
		canonical[domain.VenueKuCoin][p.KuCoinSymbol] = p.Symbol
	}

	return &Feed{
		bybitWS:   bybitWS,
		kucoinWS:  kucoinWS,
		pairs:     pairs,
		cache:     cache,
		logger:    logger.With(slog.String("component", "feed")),
		canonical: canonical,
		book: map[domain.Venue]map[string]domain.Quote{
			domain.VenueBybit:  make(map[string]domain.Quote, len(pairs)),
			domain.VenueKuCoin: make(map[string]domain.Quote, len(pairs)),
		},
		updates: make(chan Update, updateBuffer),
		mirror:  make(chan domain.Quote, mirrorBuffer),
	}
}

// Updates returns the merged quote stream.
func (f *Feed) Updates() <-chan Update {
	return f.updates
}

// Quotes returns the latest quotes for a canonical symbol on both venues.
// ok is false until both venues have quoted at least once.
func (f *Feed) Quotes(symbol string) (bybitQ, kucoinQ domain.Quote, ok bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bybitQ, okB := f.book[domain.VenueBybit][symbol]
	kucoinQ, okK := f.book[domain.VenueKuCoin][symbol]
	return bybitQ, kucoinQ, okB && okK
}

// Run connects both streams, subscribes to every matched pair, and blocks
// until ctx is cancelled. The cache mirror drains on the same lifetime.
func (f *Feed) Run(ctx context.Context) error {
	f.bybitWS.OnQuote(f.handleQuote)
	f.kucoinWS.OnQuote(f.handleQuote)

	if err := f.bybitWS.Connect(ctx); err != nil {
		return err
	}
	if err := f.kucoinWS.Connect(ctx); err != nil {
		return err
	}

	bybitSymbols := make([]string, 0, len(f.pairs))
	kucoinSymbols := make([]string, 0, len(f.pairs))
	for _, p := range f.pairs {
		bybitSymbols = append(bybitSymbols, p.BybitSymbol)
		kucoinSymbols = append(kucoinSymbols, p.KuCoinSymbol)
	}

	if err := f.bybitWS.Subscribe(ctx, bybitSymbols); err != nil {
		return err
	}
	if err := f.kucoinWS.Subscribe(ctx, kucoinSymbols); err != nil {
		return err
	}

	f.logger.Info("quote feed started", slog.Int("pairs", len(f.pairs)))

	f.mirrorLoop(ctx)

	_ = f.bybitWS.Close()
	_ = f.kucoinWS.Close()
	return ctx.Err()
}

// handleQuote runs on the WebSocket read goroutines; it must stay cheap.
func (f *Feed) handleQuote(q domain.Quote) {
	canonical, ok := f.canonical[q.Venue][q.Symbol]
	if !ok {
		return // not a matched pair
	}

	f.mu.Lock()
	f.book[q.Venue][canonical] = q
	bybitQ, okB := f.book[domain.VenueBybit][canonical]
	kucoinQ, okK := f.book[domain.VenueKuCoin][canonical]
	f.mu.Unlock()

	if f.cache != nil {
		select {
		case f.mirror <- q:
		default:
		}
	}

	if !okB || !okK {
		return
	}

	select {
	case f.updates <- Update{Symbol: canonical, Bybit: bybitQ, KuCoin: kucoinQ}:
	default:
		// Detector is behind; this tick is already superseded.
	}
}

// mirrorLoop writes quotes into the external cache until ctx is cancelled.
func (f *Feed) mirrorLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-f.mirror:
			if f.cache == nil {
				continue
			}
			if err := f.cache.SetQuote(ctx, q); err != nil {
				f.logger.Debug("quote mirror failed",
					slog.String("venue", string(q.Venue)),
					slog.String("symbol", q.Symbol),
					slog.String("error", err.Error()))
			}
		}
	}
}
