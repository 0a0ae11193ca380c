package domain

import (
	"context"
	"time"
)

// TradeRecord is a flattened snapshot of a completed (or just-opened) trade
// for the ledger sinks. The CSV ledger and the Postgres mirror both consume
// this shape; failures in either are logged and never block the core.
type TradeRecord struct {
	PositionID string
	Symbol     string
	OpenedAt   time.Time
	ClosedAt   time.Time

	FinalPnl      float64
	TotalDuration time.Duration

	// Pair stage: both legs open.
	PairExitReason string
	PairDuration   time.Duration
	PairPnl        float64

	// Failover stage: single surviving leg, zero-valued when no failover ran.
	FailoverExitReason string
	FailoverDuration   time.Duration
	FailoverPnl        float64

	// Strategy parameter snapshot taken at open time.
	Params map[string]string
}

// TradeLedger records position opens and closes. Implementations must be
// fire-and-forget safe: the core calls them synchronously but tolerates and
// logs any error.
type TradeLedger interface {
	RecordOpen(ctx context.Context, rec TradeRecord) error
	RecordClose(ctx context.Context, rec TradeRecord) error
}

// TradeStore is the durable mirror of the ledger used for archiving.
type TradeStore interface {
	TradeLedger
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// QuoteCache mirrors the latest quotes into an external cache so dashboards
// and post-mortems can read them without touching the hot path.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, venue Venue, symbol string) (Quote, error)
	GetQuotes(ctx context.Context, venue Venue, symbols []string) (map[string]Quote, error)
}
