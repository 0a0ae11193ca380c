// Package position tracks open pair positions and drives their lifecycle:
// take profit, stop loss with pair splitting, and hold timeouts.
package position

import (
	"sync"
	"time"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// Book is the synchronized registry of open positions plus the cooldown and
// quarantine state the signal gate consults. All methods are safe for
// concurrent use.
type Book struct {
	mu sync.RWMutex

	positions map[string]*domain.Position
	byTriple  map[domain.Triple]string

	// pending marks triples whose entry orders are in flight. A triple is
	// marked before the executor runs and cleared after, win or lose, so two
	// workers can never race the same triple into a double entry.
	pending map[domain.Triple]bool

	slAt       map[string]time.Time // symbol -> last stop-loss exit
	timeoutAt  map[string]time.Time // symbol -> last hold-timeout exit
	quarantine map[string]bool
	failover   map[string]bool // symbol -> has an active failover leg
}

// NewBook creates an empty Book.
func NewBook() *Book {
	return &Book{
		positions:  make(map[string]*domain.Position),
		byTriple:   make(map[domain.Triple]string),
		pending:    make(map[domain.Triple]bool),
		slAt:       make(map[string]time.Time),
		timeoutAt:  make(map[string]time.Time),
		quarantine: make(map[string]bool),
		failover:   make(map[string]bool),
	}
}

// Register adds an open position.
func (b *Book) Register(p *domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions[p.ID] = p
	b.byTriple[p.Triple()] = p.ID
}

// Remove deletes a position by ID.
func (b *Book) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.positions[id]; ok {
		delete(b.byTriple, p.Triple())
		delete(b.positions, id)
	}
}

// Get returns a position by ID.
func (b *Book) Get(id string) (*domain.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	return p, ok
}

// List returns a snapshot of all tracked positions.
func (b *Book) List() []*domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p)
	}
	return out
}

// OpenCount returns the number of tracked positions plus in-flight entries.
func (b *Book) OpenCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions) + len(b.pending)
}

// HasTriple reports whether a position is open or pending for the triple.
func (b *Book) HasTriple(t domain.Triple) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, open := b.byTriple[t]
	return open || b.pending[t]
}

// TryMarkPending atomically claims the triple for an entry attempt. It
// returns false when the triple is already open or claimed.
func (b *Book) TryMarkPending(t domain.Triple) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, open := b.byTriple[t]; open {
		return false
	}
	if b.pending[t] {
		return false
	}
	b.pending[t] = true
	return true
}

// ClearPending releases a pending claim.
func (b *Book) ClearPending(t domain.Triple) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, t)
}

// MarkStopLoss records a stop-loss exit for the symbol at t.
func (b *Book) MarkStopLoss(symbol string, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slAt[symbol] = t
}

// LastStopLoss returns the time of the symbol's most recent stop-loss exit.
func (b *Book) LastStopLoss(symbol string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.slAt[symbol]
	return t, ok
}

// MarkTimeout records a hold-timeout exit for the symbol at t.
func (b *Book) MarkTimeout(symbol string, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeoutAt[symbol] = t
}

// LastTimeout returns the time of the symbol's most recent timeout exit.
func (b *Book) LastTimeout(symbol string) (time.Time, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.timeoutAt[symbol]
	return t, ok
}

// Quarantine bars the symbol from new entries until the process restarts.
func (b *Book) Quarantine(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quarantine[symbol] = true
}

// IsQuarantined reports whether the symbol is barred from new entries.
func (b *Book) IsQuarantined(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.quarantine[symbol]
}

// SetFailoverActive flags the symbol as having an orphaned leg in failover.
func (b *Book) SetFailoverActive(symbol string, active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if active {
		b.failover[symbol] = true
	} else {
		delete(b.failover, symbol)
	}
}

// FailoverCount returns the number of symbols with an active failover leg.
// Failover legs have left the positions map but still tie up margin, so the
// decision engine counts them toward the parallel-position cap.
func (b *Book) FailoverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.failover)
}

// HasFailover reports whether the symbol has an active failover leg.
func (b *Book) HasFailover(symbol string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failover[symbol]
}
