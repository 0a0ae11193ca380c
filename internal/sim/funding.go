package sim

// fundingPeriodHours is the settlement period both venues use for perpetual
// funding.
const fundingPeriodHours = 8.0

// EstimateFunding projects the net funding cost of holding the pair for
// holdHours. The long leg pays its venue's rate, the short leg receives its
// venue's rate; a positive result is a cost, a negative one is income.
func EstimateFunding(longRate, shortRate, notional, holdHours float64) float64 {
	periods := holdHours / fundingPeriodHours
	return (longRate - shortRate) * notional * periods
}
