package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/massgravity/internal/game/accrual"
	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/storage/postgres"
	"github.com/cory-johannsen/massgravity/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestPool_VerifySchema(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	ctx := context.Background()

	err := pc.Pool.VerifySchema(ctx)
	assert.ErrorIs(t, err, postgres.ErrSchemaMissing)
	assert.ErrorIs(t, pc.Pool.Health(ctx, 5*time.Second), postgres.ErrSchemaMissing)

	pc.ApplyMigrations(t)
	assert.NoError(t, pc.Pool.VerifySchema(ctx))
	assert.NoError(t, pc.Pool.Health(ctx, 5*time.Second))
}

func TestPostgresRepositories(t *testing.T) {
	pool := testutil.NewPool(t)
	ctx := context.Background()
	accounts := postgres.NewAccountRepository(pool)
	games := postgres.NewGameStateRepository(pool)
	settings := postgres.NewSettingsRepository(pool)

	t.Run("account create and authenticate", func(t *testing.T) {
		name := uniqueName("pilot")
		created, err := accounts.Create(ctx, name, "hunter22", state.FactionRed)
		require.NoError(t, err)
		assert.Greater(t, created.ID, int64(0))
		assert.Equal(t, state.FactionRed, created.Faction)

		_, err = accounts.Create(ctx, name, "other", state.FactionBlue)
		assert.ErrorIs(t, err, postgres.ErrAccountExists)

		got, err := accounts.Authenticate(ctx, name, "hunter22")
		require.NoError(t, err)
		assert.Equal(t, created, got)

		_, err = accounts.Authenticate(ctx, name, "wrong")
		assert.ErrorIs(t, err, postgres.ErrInvalidCredentials)
		_, err = accounts.Authenticate(ctx, uniqueName("ghost"), "x")
		assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
	})

	t.Run("game state round trip", func(t *testing.T) {
		acct, err := accounts.Create(ctx, uniqueName("miner"), "pw", state.FactionGreen)
		require.NoError(t, err)

		empty, err := games.LoadGameState(ctx, acct.ID)
		require.NoError(t, err)
		assert.Nil(t, empty.LastUpdated)

		stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		doc := state.Document{
			Resources:        12.5,
			MiningFacilities: map[string]int{"earth": 2},
			LastUpdated:      &stamp,
		}
		require.NoError(t, games.SaveGameState(ctx, acct.ID, doc))

		loaded, err := games.LoadGameState(ctx, acct.ID)
		require.NoError(t, err)
		assert.InDelta(t, 12.5, loaded.Resources, 1e-9)
		assert.Equal(t, 2, loaded.TotalMiningFacilities())
		require.NotNil(t, loaded.LastUpdated)
		assert.True(t, stamp.Equal(*loaded.LastUpdated))

		assert.ErrorIs(t, games.SaveGameState(ctx, 1<<40, doc), postgres.ErrAccountNotFound)
		_, err = games.LoadGameState(ctx, 1<<40)
		assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
	})

	t.Run("settings seeded and updated", func(t *testing.T) {
		rates, err := settings.Rates(ctx)
		require.NoError(t, err)
		assert.Equal(t, accrual.DefaultRates(), rates)

		custom := accrual.DefaultRates()
		custom.MiningRate = 8
		custom.MaterialRates[state.FactionRed] = 2.5
		require.NoError(t, settings.Update(ctx, custom))

		rates, err = settings.Rates(ctx)
		require.NoError(t, err)
		assert.Equal(t, 8.0, rates.MiningRate)
		assert.Equal(t, 2.5, rates.MaterialRates[state.FactionRed])
		assert.Equal(t, 1.0, rates.MaterialRates[state.FactionBlue])
	})

	t.Run("null settings columns fall back to defaults", func(t *testing.T) {
		_, err := pool.Exec(ctx, `UPDATE game_settings SET research_rate = NULL, green_material_rate = NULL`)
		require.NoError(t, err)
		rates, err := settings.Rates(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3.0, rates.ResearchRate)
		assert.Equal(t, 1.0, rates.MaterialRates[state.FactionGreen])
	})

	t.Run("negative settings are rejected", func(t *testing.T) {
		bad := accrual.DefaultRates()
		bad.MiningRate = -5
		assert.ErrorIs(t, settings.Update(ctx, bad), accrual.ErrInvalidRates)

		_, err := pool.Exec(ctx, `UPDATE game_settings SET mining_rate = -5`)
		assert.Error(t, err, "check constraint must reject negative rates")

		rates, err := settings.Rates(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, rates.MiningRate, 0.0)
	})

	t.Run("negative stored rate fails validation on read", func(t *testing.T) {
		_, err := pool.Exec(ctx, `ALTER TABLE game_settings DROP CONSTRAINT game_settings_rates_non_negative`)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, `UPDATE game_settings SET red_material_rate = -1`)
		require.NoError(t, err)

		_, err = settings.Rates(ctx)
		assert.ErrorIs(t, err, accrual.ErrInvalidRates)
	})
}
