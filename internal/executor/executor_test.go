package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/specs"
)

type placedOrder struct {
	symbol     string
	side       domain.Side
	qty        float64
	reduceOnly bool
}

type fakeVenue struct {
	name    domain.Venue
	placeFn func(symbol string, side domain.Side, qty float64, reduceOnly bool) (domain.OrderResult, error)

	mu     sync.Mutex
	placed []placedOrder
}

func (f *fakeVenue) Name() domain.Venue { return f.name }

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, symbol string, side domain.Side, qty float64, reduceOnly bool) (domain.OrderResult, error) {
	f.mu.Lock()
	f.placed = append(f.placed, placedOrder{symbol, side, qty, reduceOnly})
	f.mu.Unlock()
	if f.placeFn != nil {
		return f.placeFn(symbol, side, qty, reduceOnly)
	}
	return domain.OrderResult{OrderID: "ok", FilledQty: qty}, nil
}

func (f *fakeVenue) PositionSize(context.Context, string) (float64, error) { return 0, nil }
func (f *fakeVenue) UnrealizedPnl(context.Context, string, domain.Direction) (float64, error) {
	return 0, nil
}
func (f *fakeVenue) ClosedPnl(context.Context, string, domain.Direction) (float64, error) {
	return 0, nil
}
func (f *fakeVenue) AvailableBalance(context.Context) (float64, error)    { return 0, nil }
func (f *fakeVenue) FundingRate(context.Context, string) (float64, error) { return 0, nil }
func (f *fakeVenue) OrderBook(context.Context, string, int) (domain.OrderBookSnapshot, error) {
	return domain.OrderBookSnapshot{}, nil
}
func (f *fakeVenue) Instruments(context.Context) (map[string]domain.InstrumentSpecs, error) {
	return nil, nil
}

func testRegistry() *specs.Registry {
	return specs.NewFromMaps(map[domain.Venue]map[string]domain.InstrumentSpecs{
		domain.VenueBybit: {
			"BTCUSDT": {MinQty: 0.001, StepQty: 0.001, ContractValue: 1},
		},
		domain.VenueKuCoin: {
			"XBTUSDTM": {MinQty: 1, StepQty: 1, ContractValue: 0.001},
		},
	})
}

func testOpp() *domain.Opportunity {
	return &domain.Opportunity{
		Symbol:         "BTCUSDT",
		LongVenue:      domain.VenueBybit,
		ShortVenue:     domain.VenueKuCoin,
		LongSymbol:     "BTCUSDT",
		ShortSymbol:    "XBTUSDTM",
		LongPrice:      100,
		ShortPrice:     101,
		LongFillPrice:  100,
		ShortFillPrice: 101,
		TotalFees:      0.72,
		NetProfit:      2.28,
	}
}

func testExecutor(long, short *fakeVenue) *Executor {
	return New(
		Config{PositionSizeUSD: 300, OrderTimeout: 100 * time.Millisecond},
		map[domain.Venue]domain.VenueClient{long.name: long, short.name: short},
		testRegistry(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestLegQty(t *testing.T) {
	tests := []struct {
		name    string
		price   float64
		sp      domain.InstrumentSpecs
		want    float64
		wantErr error
	}{
		{
			name:  "linear contract rounds to step",
			price: 100,
			sp:    domain.InstrumentSpecs{MinQty: 0.001, StepQty: 0.001, ContractValue: 1},
			want:  3,
		},
		{
			name:  "contract value divides notional",
			price: 100,
			sp:    domain.InstrumentSpecs{MinQty: 1, StepQty: 1, ContractValue: 0.01},
			want:  300,
		},
		{
			name:  "uneven step rounds down",
			price: 7,
			sp:    domain.InstrumentSpecs{MinQty: 1, StepQty: 10, ContractValue: 1},
			want:  40, // 42.857 contracts down to 40
		},
		{
			name:    "below minimum",
			price:   100,
			sp:      domain.InstrumentSpecs{MinQty: 10, StepQty: 1, ContractValue: 1},
			wantErr: domain.ErrOrderRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LegQty(300, tt.price, tt.sp)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LegQty: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("qty = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOpenPairBothLegsFill(t *testing.T) {
	long := &fakeVenue{name: domain.VenueBybit}
	short := &fakeVenue{name: domain.VenueKuCoin}
	e := testExecutor(long, short)

	pos, err := e.OpenPair(context.Background(), testOpp())
	if err != nil {
		t.Fatalf("OpenPair: %v", err)
	}
	if pos.Status != domain.PositionStatusOpen {
		t.Errorf("status = %s, want open", pos.Status)
	}
	if pos.QtyLong != 3 {
		t.Errorf("QtyLong = %v, want 3", pos.QtyLong)
	}
	// 300 USD / (101 * 0.001) contracts, floored to whole contracts.
	if pos.QtyShort != 2970 {
		t.Errorf("QtyShort = %v, want 2970", pos.QtyShort)
	}
	if pos.EntryFee != 0.36 {
		t.Errorf("EntryFee = %v, want 0.36", pos.EntryFee)
	}

	if len(long.placed) != 1 || long.placed[0].side != domain.SideBuy || long.placed[0].reduceOnly {
		t.Errorf("long leg order = %+v, want plain Buy", long.placed)
	}
	if len(short.placed) != 1 || short.placed[0].side != domain.SideSell || short.placed[0].reduceOnly {
		t.Errorf("short leg order = %+v, want plain Sell", short.placed)
	}
}

func TestOpenPairShortLegRejectedReversesLong(t *testing.T) {
	long := &fakeVenue{name: domain.VenueBybit}
	short := &fakeVenue{name: domain.VenueKuCoin}
	short.placeFn = func(_ string, _ domain.Side, _ float64, reduceOnly bool) (domain.OrderResult, error) {
		return domain.OrderResult{}, domain.ErrOrderRejected
	}
	e := testExecutor(long, short)

	pos, err := e.OpenPair(context.Background(), testOpp())
	if pos != nil {
		t.Fatal("got a position from a failed entry")
	}
	if !errors.Is(err, domain.ErrOrderRejected) {
		t.Errorf("err = %v, want ErrOrderRejected", err)
	}
	if errors.Is(err, domain.ErrResidualPosition) {
		t.Errorf("err = %v, reversal succeeded so no residual expected", err)
	}

	// The filled long leg must be unwound with a reduce-only sell.
	if len(long.placed) != 2 {
		t.Fatalf("long orders = %d, want entry + reversal", len(long.placed))
	}
	rev := long.placed[1]
	if rev.side != domain.SideSell || !rev.reduceOnly || rev.qty != 3 {
		t.Errorf("reversal = %+v, want reduce-only Sell 3", rev)
	}
}

func TestOpenPairTimeoutReversesFilledLeg(t *testing.T) {
	long := &fakeVenue{name: domain.VenueBybit}
	short := &fakeVenue{name: domain.VenueKuCoin}
	short.placeFn = func(_ string, side domain.Side, qty float64, reduceOnly bool) (domain.OrderResult, error) {
		if !reduceOnly {
			return domain.OrderResult{}, context.DeadlineExceeded
		}
		return domain.OrderResult{OrderID: "rev", FilledQty: qty}, nil
	}
	e := testExecutor(long, short)

	_, err := e.OpenPair(context.Background(), testOpp())
	if !errors.Is(err, domain.ErrOrderTimeout) {
		t.Errorf("err = %v, want ErrOrderTimeout", err)
	}
}

func TestOpenPairResidualWhenReversalFails(t *testing.T) {
	long := &fakeVenue{name: domain.VenueBybit}
	long.placeFn = func(_ string, _ domain.Side, qty float64, reduceOnly bool) (domain.OrderResult, error) {
		if reduceOnly {
			return domain.OrderResult{}, errors.New("venue down")
		}
		return domain.OrderResult{OrderID: "ok", FilledQty: qty}, nil
	}
	short := &fakeVenue{name: domain.VenueKuCoin}
	short.placeFn = func(string, domain.Side, float64, bool) (domain.OrderResult, error) {
		return domain.OrderResult{}, domain.ErrOrderRejected
	}
	e := testExecutor(long, short)

	_, err := e.OpenPair(context.Background(), testOpp())
	if !errors.Is(err, domain.ErrResidualPosition) {
		t.Errorf("err = %v, want ErrResidualPosition", err)
	}
}
