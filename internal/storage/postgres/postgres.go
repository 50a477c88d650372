// Package postgres provides PostgreSQL persistence for accounts, game-state
// documents and game settings using pgx v5.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/massgravity/internal/config"
)

// SchemaVersion is the newest migration the repositories in this package read.
const SchemaVersion = 2

// ErrSchemaMissing is returned when the database lacks the tables the
// repositories need, usually because cmd/migrate has not been run.
var ErrSchemaMissing = errors.New("database schema missing")

// Pool wraps a pgx connection pool with health-check and lifecycle methods.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool creates a new PostgreSQL connection pool from the given configuration.
//
// Precondition: cfg must contain valid database connection parameters.
// Postcondition: Returns a connected Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "massgravity"

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Pool{pool: pool}, nil
}

// Health checks that the database is reachable and migrated within the given
// timeout.
//
// Precondition: The pool must not be closed.
// Postcondition: Returns nil if the database responds within the timeout and
// VerifySchema passes.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.pool.Ping(ctx); err != nil {
		return err
	}
	return p.VerifySchema(ctx)
}

// VerifySchema checks for the accounts.game_data column and the game_settings
// table.
//
// Postcondition: Returns an error wrapping ErrSchemaMissing naming what is absent.
func (p *Pool) VerifySchema(ctx context.Context) error {
	var gameData, settings bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.columns
		                WHERE table_schema = current_schema()
		                  AND table_name = 'accounts' AND column_name = 'game_data'),
		        to_regclass('game_settings') IS NOT NULL`,
	).Scan(&gameData, &settings)
	if err != nil {
		return fmt.Errorf("inspecting schema: %w", err)
	}
	switch {
	case !gameData:
		return fmt.Errorf("%w: accounts.game_data", ErrSchemaMissing)
	case !settings:
		return fmt.Errorf("%w: game_settings", ErrSchemaMissing)
	}
	return nil
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
