package domain

import "time"

// Quote is the latest best bid/ask observed for a (symbol, venue) pair.
// Quotes are ephemeral: each new tick overwrites the previous one, no
// history is retained.
type Quote struct {
	Symbol     string
	Venue      Venue
	Bid        float64
	Ask        float64
	ObservedAt time.Time
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}
