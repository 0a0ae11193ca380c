package detector

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/feed"
)

func testConfig() Config {
	return Config{
		MinDeltaPct:      0.8,
		MinDeltaLifetime: 2 * time.Second,
		CacheExpiration:  10 * time.Second,
		MaxQuoteAge:      5 * time.Second,
		QueueSize:        16,
	}
}

func testDetector(t *testing.T) (*Detector, *time.Time) {
	t.Helper()
	d := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	return d, &now
}

func update(at time.Time, bybitBid, bybitAsk, kucoinBid, kucoinAsk float64) feed.Update {
	return feed.Update{
		Symbol: "BTCUSDT",
		Bybit: domain.Quote{
			Symbol: "BTCUSDT", Venue: domain.VenueBybit,
			Bid: bybitBid, Ask: bybitAsk, ObservedAt: at,
		},
		KuCoin: domain.Quote{
			Symbol: "XBTUSDTM", Venue: domain.VenueKuCoin,
			Bid: kucoinBid, Ask: kucoinAsk, ObservedAt: at,
		},
	}
}

func TestEvaluateDirectionAndDelta(t *testing.T) {
	d, now := testDetector(t)

	// KuCoin bid 101 vs Bybit ask 100: long Bybit, short KuCoin, delta 1%.
	u := update(*now, 99.9, 100, 101, 101.1)

	if opp := d.Evaluate(u); opp != nil {
		t.Fatal("first sighting must only arm the cache")
	}

	*now = now.Add(3 * time.Second)
	u = update(*now, 99.9, 100, 101, 101.1)

	opp := d.Evaluate(u)
	if opp == nil {
		t.Fatal("expected opportunity after lifetime elapsed")
	}
	if opp.LongVenue != domain.VenueBybit || opp.ShortVenue != domain.VenueKuCoin {
		t.Errorf("direction = long %s short %s, want long Bybit short KuCoin", opp.LongVenue, opp.ShortVenue)
	}
	if got, want := opp.RawDeltaPct, 1.0; got < want-1e-9 || got > want+1e-9 {
		t.Errorf("RawDeltaPct = %v, want %v", got, want)
	}
	if opp.LongSymbol != "BTCUSDT" || opp.ShortSymbol != "XBTUSDTM" {
		t.Errorf("venue symbols = %s/%s", opp.LongSymbol, opp.ShortSymbol)
	}
	if opp.LongPrice != 100 || opp.ShortPrice != 101 {
		t.Errorf("prices = %v/%v, want 100/101", opp.LongPrice, opp.ShortPrice)
	}
}

func TestEvaluateEmitsOncePerWindow(t *testing.T) {
	d, now := testDetector(t)

	d.Evaluate(update(*now, 99.9, 100, 101, 101.1))
	*now = now.Add(3 * time.Second)

	if d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) == nil {
		t.Fatal("expected first emission")
	}
	if d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) != nil {
		t.Error("same window must not emit twice")
	}
}

func TestEvaluateBelowThresholdClearsCache(t *testing.T) {
	d, now := testDetector(t)

	d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) // arm
	*now = now.Add(1 * time.Second)

	// Delta collapses below threshold: cache entry must be dropped.
	if d.Evaluate(update(*now, 99.9, 100, 100.1, 100.2)) != nil {
		t.Fatal("sub-threshold delta must not emit")
	}

	// Delta returns; window restarts from zero.
	*now = now.Add(1 * time.Second)
	if d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) != nil {
		t.Error("re-armed delta must wait out the lifetime again")
	}
	*now = now.Add(3 * time.Second)
	if d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) == nil {
		t.Error("expected emission after fresh lifetime")
	}
}

func TestEvaluateExpiredWindowRearms(t *testing.T) {
	d, now := testDetector(t)

	d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) // arm

	// Past the expiration bound the pending delta is no longer trusted.
	*now = now.Add(11 * time.Second)
	if d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) != nil {
		t.Fatal("expired window must re-arm, not emit")
	}

	*now = now.Add(3 * time.Second)
	if d.Evaluate(update(*now, 99.9, 100, 101, 101.1)) == nil {
		t.Error("expected emission after re-armed lifetime")
	}
}

func TestEvaluateStaleQuotesSkipped(t *testing.T) {
	d, now := testDetector(t)

	stale := now.Add(-6 * time.Second)
	if d.Evaluate(update(stale, 99.9, 100, 101, 101.1)) != nil {
		t.Error("stale quotes must be skipped")
	}
	if len(d.cache) != 0 {
		t.Error("stale quotes must not arm the cache")
	}
}

type recordingRefresher struct{ symbols []string }

func (r *recordingRefresher) OnQuote(symbol string) { r.symbols = append(r.symbols, symbol) }

func TestRunRoutesUpdatesToRefreshers(t *testing.T) {
	d, now := testDetector(t)
	ref := &recordingRefresher{}
	d.AddRefresher(ref)

	updates := make(chan feed.Update, 2)
	updates <- update(*now, 99.9, 100, 100.05, 100.1) // below threshold
	updates <- update(*now, 99.9, 100, 101, 101.1)    // above threshold

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx, updates)
	}()

	deadline := time.After(time.Second)
	for len(updates) > 0 {
		select {
		case <-deadline:
			t.Fatal("detector did not drain updates")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	cancel()
	<-done

	if len(ref.symbols) != 2 {
		t.Fatalf("refresher kicks = %d, want every update routed", len(ref.symbols))
	}
	if ref.symbols[0] != "BTCUSDT" {
		t.Errorf("kick symbol = %s", ref.symbols[0])
	}
}
