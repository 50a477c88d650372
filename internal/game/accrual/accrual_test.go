package accrual_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/massgravity/internal/game/accrual"
	"github.com/cory-johannsen/massgravity/internal/game/state"
)

var epoch = time.Date(2025, 3, 17, 12, 0, 0, 0, time.UTC)

func docAt(t time.Time, mining int) state.Document {
	return state.Document{
		Resources:        100,
		MiningFacilities: map[string]int{"planet_0": mining},
		LastUpdated:      &t,
	}
}

func TestAccrue_FirstTouchSetsBaseline(t *testing.T) {
	doc := state.Document{Resources: 10, MiningFacilities: map[string]int{"p": 3}}
	out, did := accrual.Accrue(doc, state.FactionBlue, accrual.DefaultRates(), epoch, true)

	assert.False(t, did)
	require.NotNil(t, out.LastUpdated)
	assert.Equal(t, epoch, *out.LastUpdated)
	assert.Equal(t, 10.0, out.Resources)
	assert.Nil(t, doc.LastUpdated, "input document must not be mutated")
}

func TestAccrue_ForcedSixtySecondsBlue(t *testing.T) {
	rates := accrual.Rates{
		MiningRate:    5,
		MaterialRates: map[state.Faction]float64{state.FactionBlue: 1.0},
	}
	doc := docAt(epoch, 2)
	doc.Materials = state.Materials{Blue: 1, Red: 7, Green: 9}

	out, did := accrual.Accrue(doc, state.FactionBlue, rates, epoch.Add(60*time.Second), true)

	require.True(t, did)
	assert.InDelta(t, 110.0, out.Resources, 1e-9)
	assert.InDelta(t, 3.0, out.Materials.Blue, 1e-9)
	assert.Equal(t, 7.0, out.Materials.Red)
	assert.Equal(t, 9.0, out.Materials.Green)
	assert.Equal(t, epoch.Add(60*time.Second), *out.LastUpdated)
}

func TestAccrue_RateLimitedWhenNotForced(t *testing.T) {
	doc := docAt(epoch, 2)
	out, did := accrual.Accrue(doc, state.FactionRed, accrual.DefaultRates(), epoch.Add(4*time.Second), false)
	assert.False(t, did)
	assert.Equal(t, 100.0, out.Resources)
	assert.Equal(t, epoch, *out.LastUpdated)
}

func TestAccrue_AtMinIntervalRuns(t *testing.T) {
	doc := docAt(epoch, 1)
	out, did := accrual.Accrue(doc, state.FactionRed, accrual.DefaultRates(), epoch.Add(accrual.MinInterval), false)
	require.True(t, did)
	assert.InDelta(t, 100+5.0*5/60, out.Resources, 1e-9)
	assert.InDelta(t, 1.0*5/60, out.Materials.Red, 1e-9)
}

func TestAccrue_AllSources(t *testing.T) {
	doc := state.Document{
		MiningFacilities: map[string]int{"a": 1, "b": 1},
		ResearchOutposts: map[string]int{"a": 3},
		ColonyBases:      map[string]int{"b": 2},
		LastUpdated:      &epoch,
	}
	out, did := accrual.Accrue(doc, state.FactionGreen, accrual.DefaultRates(), epoch.Add(2*time.Minute), false)
	require.True(t, did)
	assert.InDelta(t, 2*5*2.0, out.Resources, 1e-9)
	assert.InDelta(t, 3*3*2.0, out.ResearchPoints, 1e-9)
	assert.InDelta(t, 2*2*2.0, out.Population, 1e-9)
	assert.InDelta(t, 2*1*2.0, out.Materials.Green, 1e-9)
	assert.Zero(t, out.Materials.Blue)
}

func TestAccrue_FractionalGainNotRounded(t *testing.T) {
	doc := docAt(epoch, 1)
	out, did := accrual.Accrue(doc, state.FactionBlue, accrual.DefaultRates(), epoch.Add(7*time.Second), false)
	require.True(t, did)
	assert.InDelta(t, 100+5.0*7/60, out.Resources, 1e-9)
}

func TestPropertyNonPositiveElapsedYieldsNoGain(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		mining := rapid.IntRange(0, 50).Draw(t, "mining")
		back := time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "back"))
		force := rapid.Bool().Draw(t, "force")
		doc := docAt(epoch, mining)

		out, did := accrual.Accrue(doc, state.FactionBlue, accrual.DefaultRates(), epoch.Add(-back), force)
		if did {
			t.Fatalf("accrual ran for elapsed=%s", -back)
		}
		if out.Resources != doc.Resources || out.Materials != doc.Materials {
			t.Fatalf("counters changed for non-positive elapsed: %+v", out)
		}
		if !out.LastUpdated.Equal(epoch) {
			t.Fatalf("last_updated moved backwards to %s", out.LastUpdated)
		}
	})
}

func TestPropertyMonotonicCounters(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rates := accrual.Rates{
			MiningRate:     rapid.Float64Range(0, 100).Draw(t, "mining_rate"),
			ResearchRate:   rapid.Float64Range(0, 100).Draw(t, "research_rate"),
			PopulationRate: rapid.Float64Range(0, 100).Draw(t, "population_rate"),
			MaterialRates: map[state.Faction]float64{
				state.FactionBlue: rapid.Float64Range(0, 10).Draw(t, "blue_rate"),
			},
		}
		doc := state.Document{
			MiningFacilities: map[string]int{"p": rapid.IntRange(0, 20).Draw(t, "mining")},
			ResearchOutposts: map[string]int{"p": rapid.IntRange(0, 20).Draw(t, "research")},
			ColonyBases:      map[string]int{"p": rapid.IntRange(0, 20).Draw(t, "colony")},
		}
		now := epoch
		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			now = now.Add(time.Duration(rapid.Int64Range(0, int64(10*time.Minute)).Draw(t, "step")))
			force := rapid.Bool().Draw(t, "force")
			next, _ := accrual.Accrue(doc, state.FactionBlue, rates, now, force)
			if next.Resources < doc.Resources || next.ResearchPoints < doc.ResearchPoints ||
				next.Population < doc.Population || next.Materials.Blue < doc.Materials.Blue {
				t.Fatalf("counter decreased: before=%+v after=%+v", doc, next)
			}
			if doc.LastUpdated != nil && next.LastUpdated.Before(*doc.LastUpdated) {
				t.Fatalf("last_updated decreased")
			}
			doc = next
		}
	})
}

func TestPropertyFirstTouchNeverChangesCounters(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		doc := state.Document{
			Resources:        rapid.Float64Range(0, 1e6).Draw(t, "resources"),
			MiningFacilities: map[string]int{"p": rapid.IntRange(0, 50).Draw(t, "mining")},
		}
		out, did := accrual.Accrue(doc, state.FactionRed, accrual.DefaultRates(), epoch, rapid.Bool().Draw(t, "force"))
		if did || out.Resources != doc.Resources || out.LastUpdated == nil {
			t.Fatalf("first touch changed counters or missed baseline: %+v", out)
		}
	})
}

func TestRates_ValidateDefaults(t *testing.T) {
	assert.NoError(t, accrual.DefaultRates().Validate())
	assert.NoError(t, accrual.Rates{}.Validate())
}

func TestRates_ValidateRejects(t *testing.T) {
	cases := []func(*accrual.Rates){
		func(r *accrual.Rates) { r.MiningRate = -5 },
		func(r *accrual.Rates) { r.ResearchRate = -0.01 },
		func(r *accrual.Rates) { r.PopulationRate = math.NaN() },
		func(r *accrual.Rates) { r.MaterialRates[state.FactionGreen] = -1 },
		func(r *accrual.Rates) { r.MaterialRates[state.FactionRed] = math.Inf(1) },
	}
	for i, mutate := range cases {
		rates := accrual.DefaultRates()
		mutate(&rates)
		assert.ErrorIs(t, rates.Validate(), accrual.ErrInvalidRates, "case %d", i)
	}
}

// Validated rates never move a counter below where it started.
func TestPropertyValidatedRatesKeepCountersNonNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		rates := accrual.Rates{
			MiningRate:     rapid.Float64Range(-10, 10).Draw(t, "mining"),
			ResearchRate:   rapid.Float64Range(-10, 10).Draw(t, "research"),
			PopulationRate: rapid.Float64Range(-10, 10).Draw(t, "population"),
			MaterialRates: map[state.Faction]float64{
				state.FactionBlue: rapid.Float64Range(-10, 10).Draw(t, "blue"),
			},
		}
		if rates.Validate() != nil {
			return
		}
		last := epoch
		doc := state.Document{
			MiningFacilities: map[string]int{"planet_0": rapid.IntRange(0, 5).Draw(t, "mining_facilities")},
			ResearchOutposts: map[string]int{"planet_0": rapid.IntRange(0, 5).Draw(t, "outposts")},
			ColonyBases:      map[string]int{"planet_0": rapid.IntRange(0, 5).Draw(t, "colonies")},
			LastUpdated:      &last,
		}
		elapsed := time.Duration(rapid.Int64Range(0, int64(time.Hour)).Draw(t, "elapsed"))
		out, _ := accrual.Accrue(doc, state.FactionBlue, rates, epoch.Add(elapsed), true)
		assert.GreaterOrEqual(t, out.Resources, 0.0)
		assert.GreaterOrEqual(t, out.ResearchPoints, 0.0)
		assert.GreaterOrEqual(t, out.Population, 0.0)
		assert.GreaterOrEqual(t, out.Materials.Blue, 0.0)
	})
}
