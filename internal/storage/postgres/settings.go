package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/massgravity/internal/game/accrual"
	"github.com/cory-johannsen/massgravity/internal/game/state"
)

// SettingsRepository reads production rates from the game_settings row.
type SettingsRepository struct {
	db *pgxpool.Pool
}

// NewSettingsRepository creates a SettingsRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSettingsRepository(db *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Rates returns the current production rates.
//
// Postcondition: A missing row or NULL column takes the stock value from
// accrual.DefaultRates. A stored negative rate returns an error wrapping
// accrual.ErrInvalidRates.
func (r *SettingsRepository) Rates(ctx context.Context) (accrual.Rates, error) {
	var mining, research, population, blue, red, green *float64
	err := r.db.QueryRow(ctx,
		`SELECT mining_rate, research_rate, population_rate,
		        blue_material_rate, red_material_rate, green_material_rate
		 FROM game_settings ORDER BY id LIMIT 1`,
	).Scan(&mining, &research, &population, &blue, &red, &green)
	rates := accrual.DefaultRates()
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rates, nil
		}
		return accrual.Rates{}, fmt.Errorf("querying game settings: %w", err)
	}

	override(&rates.MiningRate, mining)
	override(&rates.ResearchRate, research)
	override(&rates.PopulationRate, population)
	for faction, v := range map[state.Faction]*float64{
		state.FactionBlue:  blue,
		state.FactionRed:   red,
		state.FactionGreen: green,
	} {
		if v != nil {
			rates.MaterialRates[faction] = *v
		}
	}
	if err := rates.Validate(); err != nil {
		return accrual.Rates{}, fmt.Errorf("game settings: %w", err)
	}
	return rates, nil
}

// Update writes rates to the settings row, creating it if absent.
//
// Precondition: rates must pass accrual.Rates.Validate.
func (r *SettingsRepository) Update(ctx context.Context, rates accrual.Rates) error {
	if err := rates.Validate(); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO game_settings (id, mining_rate, research_rate, population_rate,
		                            blue_material_rate, red_material_rate, green_material_rate, updated_at)
		 VALUES (1, $1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (id) DO UPDATE SET
		     mining_rate = EXCLUDED.mining_rate,
		     research_rate = EXCLUDED.research_rate,
		     population_rate = EXCLUDED.population_rate,
		     blue_material_rate = EXCLUDED.blue_material_rate,
		     red_material_rate = EXCLUDED.red_material_rate,
		     green_material_rate = EXCLUDED.green_material_rate,
		     updated_at = NOW()`,
		rates.MiningRate, rates.ResearchRate, rates.PopulationRate,
		rates.MaterialRates[state.FactionBlue],
		rates.MaterialRates[state.FactionRed],
		rates.MaterialRates[state.FactionGreen],
	)
	if err != nil {
		return fmt.Errorf("updating game settings: %w", err)
	}
	return nil
}

func override(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
