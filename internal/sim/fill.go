// Package sim estimates realistic execution for detected opportunities:
// order book fills, funding flows, and net profit after fees. A timed
// batcher then picks the single best candidate per window.
package sim

import (
	"fmt"
	"math"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// FillResult is the outcome of walking one side of an order book.
type FillResult struct {
	// VWAP is the volume-weighted average fill price over the walked levels.
	VWAP float64

	// ImpactPct is the relative distance of VWAP from the top of book, in
	// percent.
	ImpactPct float64
}

// SimulateFill walks the given book side level by level until qty (in base
// asset) is covered and returns the volume-weighted fill. contractValue
// converts level sizes quoted in contracts to base asset; pass 1 when the
// book is already base-denominated.
//
// Levels must be ordered best first: asks ascending for a buy, bids
// descending for a sell.
func SimulateFill(levels []domain.BookLevel, qty, contractValue float64) (FillResult, error) {
	if qty <= 0 {
		return FillResult{}, fmt.Errorf("sim: fill qty must be positive, got %v", qty)
	}
	if len(levels) == 0 {
		return FillResult{}, fmt.Errorf("sim: empty book side: %w", domain.ErrInsufficientDepth)
	}
	if contractValue <= 0 {
		contractValue = 1
	}

	best := levels[0].Price
	remaining := qty
	cost := 0.0

	for _, lvl := range levels {
		avail := lvl.Qty * contractValue
		take := math.Min(remaining, avail)
		cost += take * lvl.Price
		remaining -= take
		if remaining <= 1e-12 {
			remaining = 0
			break
		}
	}

	if remaining > 0 {
		return FillResult{}, fmt.Errorf("sim: %v of %v unfilled: %w", remaining, qty, domain.ErrInsufficientDepth)
	}

	vwap := cost / qty
	impact := math.Abs(vwap-best) / best * 100

	return FillResult{VWAP: vwap, ImpactPct: impact}, nil
}
