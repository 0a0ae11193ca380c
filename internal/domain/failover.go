package domain

import "time"

// FailoverStatus is the lifecycle state of a failover position.
type FailoverStatus string

const (
	FailoverStatusActive FailoverStatus = "active"
	FailoverStatusClosed FailoverStatus = "closed"
)

// FailoverPosition is a single orphaned leg left over after a stop-loss
// split. It back-references the originating Position via PositionID but is
// owned exclusively by the failover manager, which destroys it once closed
// and reconciled.
type FailoverPosition struct {
	PositionID string
	Venue      Venue
	Symbol     string
	Direction  Direction

	EntryPrice float64
	Qty        float64

	// StartPnl is the realized PnL of the leg that was already closed when
	// this failover was activated. It is carried so the final total reflects
	// both sides of the original pair.
	StartPnl float64

	CurrentPnl float64
	MaxPnl     float64

	// TrailingStopPnl only ratchets upward as MaxPnl makes new highs.
	TrailingStopPnl      float64
	InitialTakeProfitPnl float64

	EntryFee         float64
	Funding          float64
	PositionNotional float64

	EntryTime time.Time
	ExitTime  time.Time

	Status     FailoverStatus
	ExitReason string

	FinalPnl float64
}
