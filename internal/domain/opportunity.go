package domain

import "time"

// Opportunity is a candidate arbitrage detected by the delta detector and
// enriched in place as it moves through the simulation pipeline. It is never
// persisted; the decision engine consumes it terminally.
type Opportunity struct {
	Symbol     string
	LongVenue  Venue
	ShortVenue Venue

	// LongSymbol/ShortSymbol are the venue-native symbols (KuCoin futures
	// symbols carry an "M" suffix).
	LongSymbol  string
	ShortSymbol string

	// LongPrice/ShortPrice are the best quotes at detection time: the ask on
	// the long venue, the bid on the short venue.
	LongPrice  float64
	ShortPrice float64

	RawDeltaPct float64
	DetectedAt  time.Time

	// Filled by the fill simulator.
	LongFillPrice  float64
	ShortFillPrice float64
	PriceImpactPct float64

	// Filled by the funding estimator.
	FundingEstimate float64

	// Filled by the profit simulator.
	GrossProfit   float64
	TotalFees     float64
	NetProfit     float64
	ProfitPercent float64
}

// Triple returns the duplicate-prevention key for this opportunity.
func (o *Opportunity) Triple() Triple {
	return Triple{Symbol: o.Symbol, LongVenue: o.LongVenue, ShortVenue: o.ShortVenue}
}

// Triple identifies a (symbol, longVenue, shortVenue) combination. At most
// one open position may exist per triple at any time.
type Triple struct {
	Symbol     string
	LongVenue  Venue
	ShortVenue Venue
}

// Rejection reasons produced by the signal gate and decision engine.
const (
	RejectQuarantine       = "quarantine"
	RejectSLIgnored        = "sl_ignored"
	RejectRecentSL         = "recent_sl"
	RejectTimeoutBlocked   = "timeout_blocked"
	RejectLowProfit        = "low_profit"
	RejectDuplicate        = "duplicate_position"
	RejectTooManyPositions = "too_many_open_positions"
	RejectBalanceBlocked   = "balance_blocked"
)
