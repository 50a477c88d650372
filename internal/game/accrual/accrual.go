// Package accrual computes time-proportional resource gains from a player's
// production facilities.
package accrual

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cory-johannsen/massgravity/internal/game/state"
)

// MinInterval is the smallest elapsed time that triggers a non-forced accrual.
const MinInterval = 5 * time.Second

// Rates holds per-minute production rates per facility.
type Rates struct {
	MiningRate     float64                   `yaml:"mining_rate"`
	ResearchRate   float64                   `yaml:"research_rate"`
	PopulationRate float64                   `yaml:"population_rate"`
	MaterialRates  map[state.Faction]float64 `yaml:"material_rates"`
}

// DefaultRates returns the stock game settings.
func DefaultRates() Rates {
	return Rates{
		MiningRate:     5,
		ResearchRate:   3,
		PopulationRate: 2,
		MaterialRates: map[state.Faction]float64{
			state.FactionBlue:  1.0,
			state.FactionRed:   1.0,
			state.FactionGreen: 1.0,
		},
	}
}

// ErrInvalidRates is returned when a rate is negative or not a number.
var ErrInvalidRates = errors.New("invalid rates")

// Validate rejects any rate that could drive a counter below zero.
//
// Postcondition: Returns nil, or an error wrapping ErrInvalidRates naming the
// first offending rate.
func (r Rates) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"mining_rate", r.MiningRate},
		{"research_rate", r.ResearchRate},
		{"population_rate", r.PopulationRate},
	} {
		if !validRate(f.v) {
			return fmt.Errorf("%w: %s must be >= 0, got %v", ErrInvalidRates, f.name, f.v)
		}
	}
	for _, faction := range []state.Faction{state.FactionBlue, state.FactionRed, state.FactionGreen} {
		if v, ok := r.MaterialRates[faction]; ok && !validRate(v) {
			return fmt.Errorf("%w: material_rates.%s must be >= 0, got %v", ErrInvalidRates, faction, v)
		}
	}
	return nil
}

func validRate(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}

// Accrue returns doc advanced to now.
//
// Precondition: now is supplied by the caller; Accrue never reads a clock.
// Postcondition: doc is not modified. The returned bool reports whether
// counters were advanced and last_updated moved to now. A document with no
// last_updated only has its baseline set and reports false. Elapsed time that
// is zero or negative never yields a gain.
func Accrue(doc state.Document, faction state.Faction, rates Rates, now time.Time, force bool) (state.Document, bool) {
	out := doc.Clone()

	if out.LastUpdated == nil {
		baseline := now.UTC()
		out.LastUpdated = &baseline
		return out, false
	}

	elapsed := now.Sub(*out.LastUpdated)
	if elapsed <= 0 {
		return out, false
	}
	if !force && elapsed < MinInterval {
		return out, false
	}

	timeFactor := elapsed.Seconds() / 60

	mining := float64(out.TotalMiningFacilities())
	out.Resources += mining * rates.MiningRate * timeFactor
	out.ResearchPoints += float64(out.TotalResearchOutposts()) * rates.ResearchRate * timeFactor
	out.Population += float64(out.TotalColonyBases()) * rates.PopulationRate * timeFactor
	out.Materials.Add(faction, mining*rates.MaterialRates[faction]*timeFactor)

	stamp := now.UTC()
	out.LastUpdated = &stamp
	return out, true
}
