package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/massgravity/internal/game/state"
)

// GameStateRepository stores each player's game-state document in the
// accounts.game_data JSONB column.
type GameStateRepository struct {
	db *pgxpool.Pool
}

// NewGameStateRepository creates a GameStateRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGameStateRepository(db *pgxpool.Pool) *GameStateRepository {
	return &GameStateRepository{db: db}
}

// LoadGameState returns the player's stored document.
//
// Postcondition: Returns the document, an empty document if none was ever
// saved, or ErrAccountNotFound.
func (r *GameStateRepository) LoadGameState(ctx context.Context, playerID int64) (state.Document, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT game_data FROM accounts WHERE id = $1`,
		playerID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return state.Document{}, ErrAccountNotFound
		}
		return state.Document{}, fmt.Errorf("querying game data: %w", err)
	}

	var doc state.Document
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return state.Document{}, fmt.Errorf("decoding game data for player %d: %w", playerID, err)
	}
	return doc, nil
}

// SaveGameState replaces the player's stored document in a single statement.
//
// Postcondition: The document is persisted, or ErrAccountNotFound is returned.
func (r *GameStateRepository) SaveGameState(ctx context.Context, playerID int64, doc state.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding game data: %w", err)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET game_data = $2 WHERE id = $1`,
		playerID, raw,
	)
	if err != nil {
		return fmt.Errorf("updating game data: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
