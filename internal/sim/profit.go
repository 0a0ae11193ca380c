package sim

// ProfitInput carries everything the profit calculation needs for one
// opportunity.
type ProfitInput struct {
	LongFillPrice  float64
	ShortFillPrice float64
	Notional       float64

	// LongFeeRate/ShortFeeRate are taker fee rates of the respective venues.
	LongFeeRate  float64
	ShortFeeRate float64

	// Funding is the projected funding cost; zero when funding is excluded.
	Funding float64
}

// ProfitResult is the simulated economics of the round trip.
type ProfitResult struct {
	GrossProfit   float64
	TotalFees     float64
	NetProfit     float64
	ProfitPercent float64
}

// ComputeProfit converts simulated fills into round-trip economics. The
// gross captures the spread on the notional; fees charge each leg's taker
// rate twice (entry and exit).
func ComputeProfit(in ProfitInput) ProfitResult {
	gross := (in.ShortFillPrice - in.LongFillPrice) / in.LongFillPrice * in.Notional

	feeLong := in.Notional * in.LongFeeRate
	feeShort := in.Notional * in.ShortFeeRate
	fees := 2 * (feeLong + feeShort)

	net := gross - fees - in.Funding

	var pct float64
	if in.Notional > 0 {
		pct = net / in.Notional * 100
	}

	return ProfitResult{
		GrossProfit:   gross,
		TotalFees:     fees,
		NetProfit:     net,
		ProfitPercent: pct,
	}
}
