// Package executor opens market-neutral pairs: both legs fire concurrently
// under a shared deadline, and a single-leg outcome is reversed immediately.
package executor

import (
	"fmt"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/specs"
)

// LegQty converts a USD notional into an order quantity for one leg.
// Venues quoting in contracts divide by the contract value; the result is
// rounded down to the instrument's quantity step.
func LegQty(notional, price float64, sp domain.InstrumentSpecs) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("executor: non-positive price %v", price)
	}

	cv := sp.ContractValue
	if cv <= 0 {
		cv = 1
	}
	qty := notional / (price * cv)
	qty = specs.RoundDownStep(qty, sp.StepQty)

	if qty < sp.MinQty || qty <= 0 {
		return 0, fmt.Errorf("executor: qty %v below minimum %v: %w", qty, sp.MinQty, domain.ErrOrderRejected)
	}
	return qty, nil
}
