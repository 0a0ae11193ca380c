package sim

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

func testBatcher() *Batcher {
	return NewBatcher(500*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFlushPicksBestPositive(t *testing.T) {
	b := testBatcher()
	b.Add(&domain.Opportunity{Symbol: "AAA", NetProfit: 1.2})
	b.Add(&domain.Opportunity{Symbol: "BBB", NetProfit: 2.5})
	b.Add(&domain.Opportunity{Symbol: "CCC", NetProfit: -0.4})

	best := b.Flush()
	if best == nil {
		t.Fatal("expected a winner")
	}
	if best.Symbol != "BBB" {
		t.Errorf("winner = %s, want BBB", best.Symbol)
	}

	// The accumulator must be empty after a flush.
	if b.Flush() != nil {
		t.Error("second flush must return nil")
	}
}

func TestFlushRejectsNonPositive(t *testing.T) {
	b := testBatcher()
	b.Add(&domain.Opportunity{Symbol: "AAA", NetProfit: 0})
	b.Add(&domain.Opportunity{Symbol: "BBB", NetProfit: -1})

	if best := b.Flush(); best != nil {
		t.Errorf("winner = %v, want nil", best.Symbol)
	}
}

func TestFlushEmpty(t *testing.T) {
	if best := testBatcher().Flush(); best != nil {
		t.Errorf("winner = %v, want nil", best.Symbol)
	}
}
