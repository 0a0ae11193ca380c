package failover

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/notify"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/position"
)

type fakeVenue struct {
	name domain.Venue

	mu        sync.Mutex
	placed    int
	pnl       float64
	closedPnl float64
}

func (f *fakeVenue) Name() domain.Venue { return f.name }

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, _ string, _ domain.Side, qty float64, _ bool) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed++
	return domain.OrderResult{OrderID: "ok", FilledQty: qty}, nil
}

func (f *fakeVenue) PositionSize(context.Context, string) (float64, error) { return 0, nil }

func (f *fakeVenue) UnrealizedPnl(context.Context, string, domain.Direction) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pnl, nil
}

func (f *fakeVenue) ClosedPnl(context.Context, string, domain.Direction) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closedPnl, nil
}

func (f *fakeVenue) AvailableBalance(context.Context) (float64, error)    { return 0, nil }
func (f *fakeVenue) FundingRate(context.Context, string) (float64, error) { return 0, nil }
func (f *fakeVenue) OrderBook(context.Context, string, int) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, nil
}
func (f *fakeVenue) Instruments(context.Context) (map[string]domain.InstrumentSpecs, error) {
	return nil, nil
}

type recordedLedger struct {
	closes []domain.TradeRecord
}

func (l *recordedLedger) RecordOpen(context.Context, domain.TradeRecord) error { return nil }

func (l *recordedLedger) RecordClose(_ context.Context, rec domain.TradeRecord) error {
	l.closes = append(l.closes, rec)
	return nil
}

type failoverEnv struct {
	manager *Manager
	book    *position.Book
	venue   *fakeVenue
	ledger  *recordedLedger
}

func newFailoverEnv() *failoverEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	book := position.NewBook()
	venue := &fakeVenue{name: domain.VenueBybit}
	ledger := &recordedLedger{}

	m := NewManager(
		Config{
			TrailingStopPct:      1, // 3 USDT on a 300 notional
			InitialTakeProfitPct: 2, // 6 USDT
			CheckInterval:        time.Second,
			OrderTimeout:         time.Second,
		},
		map[domain.Venue]domain.VenueClient{domain.VenueBybit: venue},
		book,
		[]domain.TradeLedger{ledger},
		notify.NewNotifier(nil, nil, logger),
		logger,
	)
	return &failoverEnv{manager: m, book: book, venue: venue, ledger: ledger}
}

func adopt(env *failoverEnv, startPnl float64) (*domain.Position, *domain.FailoverPosition) {
	pos := &domain.Position{
		ID:        "pos-1",
		Symbol:    "BTCUSDT",
		EntryTime: time.Now().Add(-time.Hour),
		Status:    domain.PositionStatusFailover,
	}
	fp := &domain.FailoverPosition{
		PositionID:       "pos-1",
		Venue:            domain.VenueBybit,
		Symbol:           "BTCUSDT",
		Direction:        domain.DirectionLong,
		Qty:              3,
		StartPnl:         startPnl,
		CurrentPnl:       1,
		MaxPnl:           1,
		PositionNotional: 300,
		EntryTime:        time.Now().Add(-time.Minute),
		Status:           domain.FailoverStatusActive,
	}
	env.book.SetFailoverActive("BTCUSDT", true)
	env.manager.Adopt(context.Background(), pos, fp)
	return pos, fp
}

func TestAdoptSeedsThresholds(t *testing.T) {
	env := newFailoverEnv()
	_, fp := adopt(env, -3.7)

	// start - 1% of 300.
	if math.Abs(fp.TrailingStopPnl-(-6.7)) > 1e-9 {
		t.Errorf("TrailingStopPnl = %v, want -6.7", fp.TrailingStopPnl)
	}
	if math.Abs(fp.InitialTakeProfitPnl-6) > 1e-9 {
		t.Errorf("InitialTakeProfitPnl = %v, want 6", fp.InitialTakeProfitPnl)
	}
}

func TestTrailingStopRatchetsUpward(t *testing.T) {
	env := newFailoverEnv()
	_, fp := adopt(env, -3.7)

	env.venue.pnl = 2
	env.manager.Tick(context.Background())
	if math.Abs(fp.TrailingStopPnl-(-1)) > 1e-9 {
		t.Fatalf("TrailingStopPnl = %v, want -1 after new high of 2", fp.TrailingStopPnl)
	}

	// A pullback must never lower the stop.
	env.venue.pnl = 1.5
	env.manager.Tick(context.Background())
	if math.Abs(fp.TrailingStopPnl-(-1)) > 1e-9 {
		t.Errorf("TrailingStopPnl = %v, pullback moved the stop", fp.TrailingStopPnl)
	}
	if fp.Status != domain.FailoverStatusActive {
		t.Errorf("status = %s, want active", fp.Status)
	}
}

func TestTrailingStopExitReconciles(t *testing.T) {
	env := newFailoverEnv()
	pos, fp := adopt(env, -3.7)

	env.venue.pnl = 5
	env.manager.Tick(context.Background())
	// New high 5 lifts the stop to 2; a drop to 1.8 fires it.
	env.venue.pnl = 1.8
	env.venue.closedPnl = 1.75
	env.manager.Tick(context.Background())

	if fp.Status != domain.FailoverStatusClosed {
		t.Fatalf("status = %s, want closed", fp.Status)
	}
	if fp.ExitReason != domain.ExitReasonTrailingStop {
		t.Errorf("reason = %s, want trailing_stop_exit", fp.ExitReason)
	}
	if math.Abs(pos.FinalPnlTotal-(1.75-3.7)) > 1e-9 {
		t.Errorf("FinalPnlTotal = %v, want failover + start = -1.95", pos.FinalPnlTotal)
	}
	if env.book.HasFailover("BTCUSDT") {
		t.Error("failover flag not cleared")
	}
	if len(env.manager.Active()) != 0 {
		t.Error("entry not removed after close")
	}

	if len(env.ledger.closes) != 1 {
		t.Fatalf("close records = %d, want 1", len(env.ledger.closes))
	}
	rec := env.ledger.closes[0]
	if rec.PairExitReason != domain.ExitReasonStopLoss {
		t.Errorf("PairExitReason = %s, want sl", rec.PairExitReason)
	}
	if math.Abs(rec.FailoverPnl-1.75) > 1e-9 || math.Abs(rec.PairPnl-(-3.7)) > 1e-9 {
		t.Errorf("stage pnls = %v/%v, want 1.75/-3.7", rec.FailoverPnl, rec.PairPnl)
	}
}

func TestTakeProfitExit(t *testing.T) {
	env := newFailoverEnv()
	_, fp := adopt(env, -3.7)

	env.venue.pnl = 6.5
	env.venue.closedPnl = 6.4
	env.manager.Tick(context.Background())

	if fp.ExitReason != domain.ExitReasonFailoverTP {
		t.Errorf("reason = %s, want take_profit_exit", fp.ExitReason)
	}
	if fp.FinalPnl != 6.4 {
		t.Errorf("FinalPnl = %v, want settled 6.4", fp.FinalPnl)
	}
}

func TestZeroPnlSkipsOnlyThatPosition(t *testing.T) {
	env := newFailoverEnv()
	_, fp := adopt(env, -3.7)

	env.venue.pnl = 0
	env.manager.Tick(context.Background())

	if fp.Status != domain.FailoverStatusActive {
		t.Errorf("status = %s, want active after zero read", fp.Status)
	}
	if env.venue.placed != 0 {
		t.Errorf("orders placed = %d, want 0", env.venue.placed)
	}
}
