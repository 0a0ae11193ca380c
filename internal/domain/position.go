package domain

import "time"

// PositionStatus is the lifecycle state of a paired position.
//
// Transitions: open -> closing -> {closed | error}, and open -> failover
// when a stop-loss splits the pair. A position leaves failover only through
// reconciliation by the failover manager.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "open"
	PositionStatusClosing  PositionStatus = "closing"
	PositionStatusClosed   PositionStatus = "closed"
	PositionStatusError    PositionStatus = "error"
	PositionStatusFailover PositionStatus = "failover"
)

// Exit reasons recorded on a position when it leaves the open state.
const (
	ExitReasonTakeProfit   = "tp"
	ExitReasonStopLoss     = "sl"
	ExitReasonTimeout      = "timeout"
	ExitReasonOrderError   = "order_error"
	ExitReasonOrderTimeout = "order_timeout"
	ExitReasonShutdown     = "shutdown"
	ExitReasonTrailingStop = "trailing_stop_exit"
	ExitReasonFailoverTP   = "take_profit_exit"
)

// Position is a market-neutral pair of legs: long on one venue, short on the
// other. It is the central entity of the bot and lives only in memory.
type Position struct {
	ID         string
	Symbol     string
	LongVenue  Venue
	ShortVenue Venue

	LongSymbol  string
	ShortSymbol string

	EntryPrices map[Venue]float64
	QtyLong     float64
	QtyShort    float64

	// EntryFee is the taker fee of a single leg entry; the round trip of the
	// pair costs 2x entry + 2x exit, approximated as 2*EntryFee per side.
	EntryFee float64

	FundingAccrued   float64
	PositionNotional float64

	EntryTime time.Time
	ExitTime  time.Time

	Status     PositionStatus
	ExitReason string

	LastPrice map[Venue]float64

	FinalPnlLong  float64
	FinalPnlShort float64
	FinalPnlTotal float64
}

// Triple returns the duplicate-prevention key for this position.
func (p *Position) Triple() Triple {
	return Triple{Symbol: p.Symbol, LongVenue: p.LongVenue, ShortVenue: p.ShortVenue}
}

// HoldDuration returns how long the position has been open at now.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}
