package watchdog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/notify"
)

type fakeVenue struct {
	name    domain.Venue
	balance float64
	err     error
}

func (f *fakeVenue) Name() domain.Venue { return f.name }

func (f *fakeVenue) AvailableBalance(context.Context) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.balance, nil
}

func (f *fakeVenue) PlaceMarketOrder(context.Context, string, domain.Side, float64, bool) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (f *fakeVenue) PositionSize(context.Context, string) (float64, error) { return 0, nil }
func (f *fakeVenue) UnrealizedPnl(context.Context, string, domain.Direction) (float64, error) {
	return 0, nil
}
func (f *fakeVenue) ClosedPnl(context.Context, string, domain.Direction) (float64, error) {
	return 0, nil
}
func (f *fakeVenue) FundingRate(context.Context, string) (float64, error) { return 0, nil }
func (f *fakeVenue) OrderBook(context.Context, string, int) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, nil
}
func (f *fakeVenue) Instruments(context.Context) (map[string]domain.InstrumentSpecs, error) {
	return nil, nil
}

func newWatchdog(bybit, kucoin *fakeVenue) *Watchdog {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(
		Config{PositionSizeUSD: 300, BalanceMarginPct: 10, CheckInterval: time.Second},
		map[domain.Venue]domain.VenueClient{domain.VenueBybit: bybit, domain.VenueKuCoin: kucoin},
		notify.NewNotifier(nil, nil, logger),
		logger,
	)
}

func TestRequired(t *testing.T) {
	w := newWatchdog(&fakeVenue{}, &fakeVenue{})
	if got := w.Required(); got != 330 {
		t.Errorf("Required = %v, want 330", got)
	}

	w.cfg.Leverage = 3
	if got := w.Required(); got != 110 {
		t.Errorf("Required at 3x = %v, want 110", got)
	}
}

func TestCheckBlocksAndRestores(t *testing.T) {
	bybit := &fakeVenue{name: domain.VenueBybit, balance: 500}
	kucoin := &fakeVenue{name: domain.VenueKuCoin, balance: 500}
	w := newWatchdog(bybit, kucoin)

	w.Check(context.Background())
	if w.Blocked() {
		t.Fatal("blocked with healthy balances")
	}

	kucoin.balance = 100
	w.Check(context.Background())
	if !w.Blocked() {
		t.Fatal("not blocked with one venue at 100 against required 330")
	}

	kucoin.balance = 400
	w.Check(context.Background())
	if w.Blocked() {
		t.Error("still blocked after balance recovered")
	}
}

func TestCheckToleratesTransientFailures(t *testing.T) {
	bybit := &fakeVenue{name: domain.VenueBybit, balance: 500}
	kucoin := &fakeVenue{name: domain.VenueKuCoin, balance: 500}
	w := newWatchdog(bybit, kucoin)

	w.Check(context.Background())

	// Two consecutive failures reuse the last good 500 and stay unblocked.
	kucoin.err = errors.New("timeout")
	w.Check(context.Background())
	w.Check(context.Background())
	if w.Blocked() {
		t.Fatal("blocked before the retry budget was exhausted")
	}

	// The third consecutive failure blocks.
	w.Check(context.Background())
	if !w.Blocked() {
		t.Fatal("not blocked after three consecutive read failures")
	}

	// A successful read resets the counter and unblocks.
	kucoin.err = nil
	w.Check(context.Background())
	if w.Blocked() {
		t.Error("still blocked after reads recovered")
	}
}
