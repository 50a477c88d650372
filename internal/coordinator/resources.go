package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/game/accrual"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/protocol"
)

// handleSaveGame persists a client-submitted document. The stored
// last_updated never moves backwards and negative counters are clamped.
func (c *Coordinator) handleSaveGame(ctx context.Context, id identity.Identity, ch presence.Channel, env protocol.Envelope) error {
	var doc state.Document
	if err := env.DecodePayload(&doc); err != nil {
		_ = c.send(ch, protocol.EventSaveError, protocol.Message{Message: "Invalid game data"})
		return err
	}

	rates := c.currentRates(ctx)
	unlock := c.locks.lock(id.PlayerID)
	saved, err := c.saveSubmittedLocked(ctx, id, doc, rates)
	unlock()
	if err != nil {
		c.logger.Warn("save_game failed", zap.Int64("player_id", id.PlayerID), zap.Error(err))
		_ = c.send(ch, protocol.EventSaveError, protocol.Message{Message: "Failed to save game"})
		return err
	}
	_ = c.send(ch, protocol.EventSaveSuccess, protocol.SaveSuccess{Success: true, UpdatedData: saved})
	return nil
}

func (c *Coordinator) saveSubmittedLocked(ctx context.Context, id identity.Identity, doc state.Document, rates accrual.Rates) (state.Document, error) {
	stored, err := c.load(ctx, id.PlayerID)
	if err != nil {
		return state.Document{}, err
	}
	stamp := c.opts.Now().UTC()
	if stored.LastUpdated != nil && stored.LastUpdated.After(stamp) {
		stamp = *stored.LastUpdated
	}
	doc.Sanitize()
	doc.LastUpdated = &stamp
	if err := c.save(ctx, id.PlayerID, doc); err != nil {
		return state.Document{}, err
	}

	updated, accrued := accrual.Accrue(doc, id.Faction, rates, c.opts.Now(), false)
	if accrued {
		if err := c.save(ctx, id.PlayerID, updated); err != nil {
			return state.Document{}, err
		}
	}
	return updated, nil
}

func (c *Coordinator) handleRequestUpdate(ctx context.Context, id identity.Identity, ch presence.Channel) error {
	_, err := c.refresh(ctx, id, ch, c.currentRates(ctx), false)
	if err != nil && isPersistence(err) {
		c.logger.Warn("request_update failed", zap.Int64("player_id", id.PlayerID), zap.Error(err))
	}
	return err
}

// handleGetActivePlayers replies with every connected player except the caller.
func (c *Coordinator) handleGetActivePlayers(id identity.Identity, ch presence.Channel) error {
	entries := c.registry.Snapshot()
	players := make([]protocol.PlayerSummary, 0, len(entries))
	for _, e := range entries {
		if e.Identity.PlayerID == id.PlayerID {
			continue
		}
		players = append(players, protocol.PlayerSummary{
			ID:       e.Identity.PlayerID,
			Username: e.Identity.Username,
			Faction:  e.Identity.Faction,
		})
	}
	return c.send(ch, protocol.EventActivePlayersList, protocol.ActivePlayers{Players: players})
}
