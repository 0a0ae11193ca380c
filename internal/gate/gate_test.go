package gate

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/position"
)

func testGate(book *position.Book) *Gate {
	g := New(Config{
		MinProfitUSD:         1.0,
		SLIgnoreWindow:       time.Hour,
		CooldownAfterTimeout: 30 * time.Minute,
	}, book, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return g
}

func testOpp(net float64) *domain.Opportunity {
	return &domain.Opportunity{
		Symbol:     "BTCUSDT",
		LongVenue:  domain.VenueBybit,
		ShortVenue: domain.VenueKuCoin,
		NetProfit:  net,
	}
}

func TestCheckPasses(t *testing.T) {
	g := testGate(position.NewBook())

	ok, reason := g.Check(testOpp(2.28))
	if !ok {
		t.Fatalf("rejected with %q, want pass", reason)
	}
}

func TestCheckRejections(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		setup  func(b *position.Book)
		net    float64
		reason string
	}{
		{
			name:   "quarantined symbol",
			setup:  func(b *position.Book) { b.Quarantine("BTCUSDT") },
			net:    5,
			reason: domain.RejectQuarantine,
		},
		{
			name:   "active failover leg",
			setup:  func(b *position.Book) { b.SetFailoverActive("BTCUSDT", true) },
			net:    5,
			reason: domain.RejectSLIgnored,
		},
		{
			name:   "stop loss cooldown",
			setup:  func(b *position.Book) { b.MarkStopLoss("BTCUSDT", now.Add(-10*time.Minute)) },
			net:    5,
			reason: domain.RejectRecentSL,
		},
		{
			name:   "timeout cooldown",
			setup:  func(b *position.Book) { b.MarkTimeout("BTCUSDT", now.Add(-10*time.Minute)) },
			net:    5,
			reason: domain.RejectTimeoutBlocked,
		},
		{
			name:   "net below threshold",
			setup:  func(b *position.Book) {},
			net:    0.5,
			reason: domain.RejectLowProfit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := position.NewBook()
			tt.setup(book)
			g := testGate(book)
			g.now = func() time.Time { return now }

			ok, reason := g.Check(testOpp(tt.net))
			if ok {
				t.Fatal("passed, want rejection")
			}
			if reason != tt.reason {
				t.Errorf("reason = %q, want %q", reason, tt.reason)
			}
		})
	}
}

func TestCooldownsExpire(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	book := position.NewBook()
	book.MarkStopLoss("BTCUSDT", now.Add(-2*time.Hour))
	book.MarkTimeout("BTCUSDT", now.Add(-31*time.Minute))

	g := testGate(book)
	g.now = func() time.Time { return now }

	if ok, reason := g.Check(testOpp(5)); !ok {
		t.Errorf("rejected with %q, want pass after cooldowns expired", reason)
	}
}
