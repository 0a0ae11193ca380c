package domain

// InstrumentSpecs holds the order-sizing constraints for one instrument on
// one venue, fetched once at startup and read-only thereafter.
type InstrumentSpecs struct {
	MinQty   float64
	StepQty  float64
	TickSize float64

	// ContractValue is the base-asset amount represented by one contract.
	// 1 for Bybit USDT perpetuals; KuCoin futures use per-contract multipliers.
	ContractValue float64
}

// SpecsProvider resolves instrument specs for a (venue, symbol) pair.
type SpecsProvider interface {
	Specs(venue Venue, symbol string) (InstrumentSpecs, error)
}
