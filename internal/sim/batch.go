package sim

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// Batcher accumulates simulated opportunities and, on an explicit timer,
// forwards only the single best candidate with positive net profit. Workers
// add concurrently; the flush is the only consumer of the accumulator.
type Batcher struct {
	window time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending []*domain.Opportunity

	out chan *domain.Opportunity
}

// NewBatcher creates a Batcher flushing every window.
func NewBatcher(window time.Duration, logger *slog.Logger) *Batcher {
	return &Batcher{
		window: window,
		logger: logger.With(slog.String("component", "sim_batcher")),
		out:    make(chan *domain.Opportunity, 1),
	}
}

// Add queues a simulated opportunity for the next flush.
func (b *Batcher) Add(opp *domain.Opportunity) {
	b.mu.Lock()
	b.pending = append(b.pending, opp)
	b.mu.Unlock()
}

// Best returns the channel carrying one winner per flush window.
func (b *Batcher) Best() <-chan *domain.Opportunity {
	return b.out
}

// Run drives the flush timer until ctx is cancelled.
func (b *Batcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if best := b.Flush(); best != nil {
				select {
				case b.out <- best:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// Flush drains the accumulator and returns the candidate with the highest
// positive net profit, or nil when none qualifies.
func (b *Batcher) Flush() *domain.Opportunity {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var best *domain.Opportunity
	for _, opp := range batch {
		if opp.NetProfit <= 0 {
			continue
		}
		if best == nil || opp.NetProfit > best.NetProfit {
			best = opp
		}
	}

	if best != nil && len(batch) > 1 {
		b.logger.Debug("batch flushed",
			slog.Int("candidates", len(batch)),
			slog.String("winner", best.Symbol),
			slog.Float64("net_profit", best.NetProfit))
	}

	return best
}
