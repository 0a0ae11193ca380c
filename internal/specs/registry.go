// Package specs loads instrument sizing constraints from every venue at
// startup and serves them read-only to the executor and simulators.
package specs

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/Alex-bitok/okbitok-arbitrage-bot/internal/domain"
)

// Registry implements domain.SpecsProvider over an immutable snapshot taken
// at startup. A symbol missing from the snapshot is a hard error for the
// caller; trading without sizing constraints is never attempted.
type Registry struct {
	byVenue map[domain.Venue]map[string]domain.InstrumentSpecs
}

var _ domain.SpecsProvider = (*Registry)(nil)

// Load fetches instrument specs from all given venue clients and builds the
// registry. It fails if any venue cannot be queried.
func Load(ctx context.Context, clients []domain.VenueClient, logger *slog.Logger) (*Registry, error) {
	log := logger.With(slog.String("component", "specs"))

	byVenue := make(map[domain.Venue]map[string]domain.InstrumentSpecs, len(clients))
	for _, c := range clients {
		specs, err := c.Instruments(ctx)
		if err != nil {
			return nil, fmt.Errorf("specs: load %s instruments: %w", c.Name(), err)
		}
		byVenue[c.Name()] = specs

		log.Info("instrument specs loaded",
			slog.String("venue", string(c.Name())),
			slog.Int("count", len(specs)))
	}

	return &Registry{byVenue: byVenue}, nil
}

// NewFromMaps builds a registry directly from per-venue spec maps.
func NewFromMaps(byVenue map[domain.Venue]map[string]domain.InstrumentSpecs) *Registry {
	return &Registry{byVenue: byVenue}
}

// Specs returns the specs for a venue-native symbol. It returns
// domain.ErrMissingSpecs when the symbol is unknown.
func (r *Registry) Specs(venue domain.Venue, symbol string) (domain.InstrumentSpecs, error) {
	venueSpecs, ok := r.byVenue[venue]
	if !ok {
		return domain.InstrumentSpecs{}, fmt.Errorf("specs: %s %s: %w", venue, symbol, domain.ErrMissingSpecs)
	}
	s, ok := venueSpecs[symbol]
	if !ok {
		return domain.InstrumentSpecs{}, fmt.Errorf("specs: %s %s: %w", venue, symbol, domain.ErrMissingSpecs)
	}
	return s, nil
}

// RoundDownStep rounds value down to a whole multiple of step. A zero step
// returns the value unchanged.
func RoundDownStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}
