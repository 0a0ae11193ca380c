// Package domain defines the core entities and interfaces shared by every
// subsystem of the okbitok arbitrage bot: quotes, opportunities, positions,
// failover positions, venue clients, and the ledger/cache contracts.
package domain

import "context"

// Venue identifies a supported derivatives exchange.
type Venue string

const (
	VenueBybit  Venue = "Bybit"
	VenueKuCoin Venue = "KuCoin"
)

// Side is the order side sent to a venue.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Direction is the economic direction of a leg.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OpenSide returns the order side that opens a leg in this direction.
func (d Direction) OpenSide() Side {
	if d == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// CloseSide returns the order side that flattens a leg in this direction.
func (d Direction) CloseSide() Side {
	if d == DirectionShort {
		return SideBuy
	}
	return SideSell
}

// OrderResult is the outcome of a market order placement.
type OrderResult struct {
	OrderID   string
	FilledQty float64
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64
	Qty   float64
}

// OrderBookSnapshot is a depth snapshot for a single symbol on one venue.
// Bids are sorted best (highest) first, asks best (lowest) first.
type OrderBookSnapshot struct {
	Symbol string
	Venue  Venue
	Bids   []BookLevel
	Asks   []BookLevel
}

// VenueClient is the trading API surface the core needs from each venue.
// Implementations live in internal/platform and sign every request.
type VenueClient interface {
	// Name returns the venue identifier.
	Name() Venue

	// PlaceMarketOrder submits a market order. When reduceOnly is set the
	// order may only decrease an existing position, never open or flip one.
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, qty float64, reduceOnly bool) (OrderResult, error)

	// PositionSize returns the current absolute position size for symbol,
	// or 0 when flat.
	PositionSize(ctx context.Context, symbol string) (float64, error)

	// UnrealizedPnl returns the unrealized PnL of the leg held in the given
	// direction. Returns 0 when the venue reports no matching position.
	UnrealizedPnl(ctx context.Context, symbol string, dir Direction) (float64, error)

	// ClosedPnl returns the realized PnL of the most recently closed leg in
	// the given direction. Venues settle closed positions asynchronously, so
	// implementations wait a short settlement delay before querying.
	ClosedPnl(ctx context.Context, symbol string, dir Direction) (float64, error)

	// AvailableBalance returns the free USDT balance of the trading account.
	AvailableBalance(ctx context.Context) (float64, error)

	// FundingRate returns the current funding rate for symbol (per 8h period).
	FundingRate(ctx context.Context, symbol string) (float64, error)

	// OrderBook returns a depth snapshot for symbol.
	OrderBook(ctx context.Context, symbol string, depth int) (OrderBookSnapshot, error)

	// Instruments returns the tradable instrument specs keyed by symbol.
	Instruments(ctx context.Context) (map[string]InstrumentSpecs, error)
}
