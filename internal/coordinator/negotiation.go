package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/game/battle"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/protocol"
)

func (c *Coordinator) handleRequestBattle(id identity.Identity, ch presence.Channel, env protocol.Envelope) error {
	var req protocol.RequestBattle
	if err := decodeValid(env, &req); err != nil {
		_ = c.send(ch, protocol.EventBattleRequestError, protocol.Message{Message: "Invalid battle request"})
		return err
	}
	if req.TargetID == id.PlayerID {
		_ = c.send(ch, protocol.EventBattleRequestError, protocol.Message{Message: "You cannot battle yourself"})
		return battle.ErrSelfBattle
	}

	target, ok := c.registry.Lookup(req.TargetID)
	if !ok {
		_ = c.send(ch, protocol.EventBattleRequestError, protocol.Message{Message: "Player is not online"})
		return fmt.Errorf("%w: player %d", ErrTargetOffline, req.TargetID)
	}

	superseded, err := c.battles.Invite(battle.Invitation{
		Requester: battle.Participant{ID: id.PlayerID, Username: id.Username, Faction: id.Faction},
		TargetID:  req.TargetID,
		CreatedAt: c.opts.Now(),
	})
	if err != nil {
		_ = c.send(ch, protocol.EventBattleRequestError, protocol.Message{Message: "Invalid battle request"})
		return err
	}
	// The target may have left between Lookup and Invite, after Disconnect
	// already withdrew its invitations.
	if !c.registry.IsCurrent(req.TargetID, target.Channel) {
		if _, err := c.battles.TakeInvitation(req.TargetID, id.PlayerID); err == nil {
			c.logger.Debug("invitation withdrawn for departed target", zap.Int64("target_id", req.TargetID))
		}
		_ = c.send(ch, protocol.EventBattleRequestError, protocol.Message{Message: "Player is not online"})
		return fmt.Errorf("%w: player %d", ErrTargetOffline, req.TargetID)
	}
	if superseded != nil {
		c.logger.Debug("battle invitation superseded",
			zap.Int64("target_id", req.TargetID),
			zap.Int64("previous_requester_id", superseded.Requester.ID),
		)
	}

	_ = c.send(target.Channel, protocol.EventBattleRequest, protocol.BattleRequest{
		FromID:      id.PlayerID,
		FromName:    id.Username,
		FromFaction: id.Faction,
	})
	_ = c.send(ch, protocol.EventBattleRequestSent, protocol.BattleRequestSent{
		TargetID:   target.Identity.PlayerID,
		TargetName: target.Identity.Username,
	})
	c.logger.Info("battle requested", zap.Int64("player_id", id.PlayerID), zap.Int64("target_id", req.TargetID))
	return nil
}

func (c *Coordinator) handleAcceptBattle(ctx context.Context, id identity.Identity, ch presence.Channel, env protocol.Envelope) error {
	var req protocol.BattleResponse
	if err := decodeValid(env, &req); err != nil {
		_ = c.send(ch, protocol.EventBattleResponseError, protocol.Message{Message: "Invalid battle response"})
		return err
	}

	inv, err := c.battles.TakeInvitation(id.PlayerID, req.RequesterID)
	if err != nil {
		_ = c.send(ch, protocol.EventBattleResponseError, protocol.Message{Message: "No pending battle request from that player"})
		return err
	}
	requester, ok := c.registry.Lookup(inv.Requester.ID)
	if !ok {
		_ = c.send(ch, protocol.EventBattleResponseError, protocol.Message{Message: "Requester is no longer online"})
		return fmt.Errorf("%w: player %d", ErrRequesterOffline, inv.Requester.ID)
	}

	room, err := c.battles.OpenRoom(inv.Requester.ID, id.PlayerID, c.opts.Now())
	if err != nil {
		return err
	}
	c.armReadiness(room)

	requesterShips := c.shipsFor(ctx, inv.Requester.ID)
	accepterShips := c.shipsFor(ctx, id.PlayerID)

	for _, member := range []int64{inv.Requester.ID, id.PlayerID} {
		if err := c.broadcaster.Join(room.Key, member); err != nil {
			c.logger.Warn("joining room broadcast failed", zap.String("battle_room", string(room.Key)), zap.Error(err))
		}
	}

	_ = c.send(requester.Channel, protocol.EventBattleAccepted, protocol.BattleAccepted{
		OpponentID:      id.PlayerID,
		OpponentName:    id.Username,
		OpponentFaction: id.Faction,
		BattleRoom:      string(room.Key),
		IsRequester:     true,
		PlayerShips:     requesterShips,
		OpponentShips:   accepterShips,
	})
	_ = c.send(ch, protocol.EventBattleAccepted, protocol.BattleAccepted{
		OpponentID:      inv.Requester.ID,
		OpponentName:    requester.Identity.Username,
		OpponentFaction: requester.Identity.Faction,
		BattleRoom:      string(room.Key),
		IsRequester:     false,
		PlayerShips:     accepterShips,
		OpponentShips:   requesterShips,
	})
	c.logger.Info("battle accepted",
		zap.String("battle_room", string(room.Key)),
		zap.String("session_id", room.SessionID),
	)
	return nil
}

// shipsFor reads the player's ships, falling back to none when the document
// cannot be loaded.
func (c *Coordinator) shipsFor(ctx context.Context, playerID int64) state.Ships {
	doc, err := c.load(ctx, playerID)
	if err != nil {
		c.logger.Warn("loading ships failed", zap.Int64("player_id", playerID), zap.Error(err))
		return state.Ships{}
	}
	return doc.Ships
}

func (c *Coordinator) handleDeclineBattle(id identity.Identity, env protocol.Envelope) error {
	var req protocol.BattleResponse
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	inv, err := c.battles.TakeInvitation(id.PlayerID, req.RequesterID)
	if err != nil {
		c.logger.Debug("decline without matching invitation", zap.Int64("player_id", id.PlayerID), zap.Error(err))
		return err
	}
	c.sendTo(inv.Requester.ID, protocol.EventBattleDeclined, protocol.OpponentInfo{
		OpponentID:   id.PlayerID,
		OpponentName: id.Username,
	})
	return nil
}

// handleJoinCombat rebinds a freshly loaded combat page to its active room.
func (c *Coordinator) handleJoinCombat(id identity.Identity, ch presence.Channel, env protocol.Envelope) error {
	var req protocol.OpponentRef
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	room, err := c.battles.ActiveRoomFor(battle.KeyFor(id.PlayerID, req.OpponentID), id.PlayerID)
	if err != nil {
		c.logger.Debug("join_combat dropped", zap.Int64("player_id", id.PlayerID), zap.Error(err))
		return err
	}
	if err := c.broadcaster.Join(room.Key, id.PlayerID); err != nil {
		c.logger.Warn("joining room broadcast failed", zap.String("battle_room", string(room.Key)), zap.Error(err))
	}
	return c.send(ch, protocol.EventCombatJoined, protocol.CombatJoined{
		BattleRoom:    string(room.Key),
		OpponentID:    room.Opponent(id.PlayerID),
		PlayerReady:   room.IsReady(id.PlayerID),
		OpponentReady: room.IsReady(room.Opponent(id.PlayerID)),
		Synchronized:  room.Synchronized,
	})
}

func (c *Coordinator) handleCombatReady(id identity.Identity, env protocol.Envelope) error {
	var req protocol.RoomRef
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	room, changed, synchronized, err := c.battles.MarkReady(battle.RoomKey(req.BattleRoom), id.PlayerID)
	if err != nil {
		c.logger.Debug("combat_ready dropped", zap.Int64("player_id", id.PlayerID), zap.Error(err))
		return err
	}
	if changed {
		c.sendTo(room.Opponent(id.PlayerID), protocol.EventOpponentReady, protocol.OpponentReady{
			BattleRoom: string(room.Key),
			PlayerID:   id.PlayerID,
		})
	}
	if synchronized {
		c.stopReadiness(room.Key, room.SessionID)
		c.broadcast(room.Key, protocol.EventCombatSynchronized, protocol.CombatSynchronized{
			BattleRoom: string(room.Key),
			StartTime:  c.opts.Now().UTC(),
		})
		c.logger.Info("combat synchronized", zap.String("battle_room", string(room.Key)))
	}
	return nil
}

func (c *Coordinator) handleEndBattle(id identity.Identity, env protocol.Envelope) error {
	var req protocol.EndBattle
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	room, err := c.battles.End(battle.RoomKey(req.BattleRoom), id.PlayerID, req.Winner, req.Result, c.opts.Now().UTC())
	if err != nil {
		c.logger.Debug("end_battle dropped", zap.Int64("player_id", id.PlayerID), zap.Error(err))
		return err
	}
	c.stopReadiness(room.Key, room.SessionID)
	c.broadcast(room.Key, protocol.EventBattleEnded, protocol.BattleEnded{
		BattleRoom: string(room.Key),
		Winner:     room.Winner,
		Result:     room.Result,
		EndedBy:    id.PlayerID,
		EndTime:    *room.EndedAt,
	})
	c.logger.Info("battle ended", zap.String("battle_room", string(room.Key)), zap.Int64("ended_by", id.PlayerID))
	return nil
}

// handleCancelBattle clears every invitation and the room between the caller
// and the named opponent, notifying the opponent if anything was cleared.
func (c *Coordinator) handleCancelBattle(id identity.Identity, env protocol.Envelope) error {
	var req protocol.OpponentRef
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	if req.OpponentID == id.PlayerID {
		return battle.ErrSelfBattle
	}
	invitations, room := c.battles.Cancel(id.PlayerID, req.OpponentID)
	if room != nil {
		c.stopReadiness(room.Key, room.SessionID)
		if err := c.broadcaster.Close(room.Key); err != nil {
			c.logger.Warn("closing room broadcast failed", zap.String("battle_room", string(room.Key)), zap.Error(err))
		}
	}
	if len(invitations) == 0 && room == nil {
		return fmt.Errorf("%w: nothing to cancel with player %d", ErrNoSuchInvitation, req.OpponentID)
	}
	c.sendTo(req.OpponentID, protocol.EventBattleCancelled, protocol.OpponentInfo{
		OpponentID:   id.PlayerID,
		OpponentName: id.Username,
		Reason:       "cancelled",
	})
	c.logger.Info("battle cancelled", zap.Int64("player_id", id.PlayerID), zap.Int64("opponent_id", req.OpponentID))
	return nil
}

// armReadiness schedules the readiness warning for room, replacing the timer
// of any earlier room under the same key. A room already replaced in the
// table is not armed, so the live room keeps its timer.
func (c *Coordinator) armReadiness(room battle.Room) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if current, ok := c.battles.Room(room.Key); !ok || current.SessionID != room.SessionID {
		c.logger.Debug("readiness not armed for replaced room",
			zap.String("battle_room", string(room.Key)),
			zap.String("session_id", room.SessionID),
		)
		return
	}
	if prev, ok := c.timers[room.Key]; ok {
		prev.timer.Stop()
	}
	c.timers[room.Key] = readiness{
		sessionID: room.SessionID,
		timer: battle.NewTimer(c.opts.ReadinessTimeout, func() {
			c.readinessExpired(room.Key, room.SessionID)
		}),
	}
}

func (c *Coordinator) stopReadiness(key battle.RoomKey, sessionID string) {
	c.timersMu.Lock()
	r, ok := c.timers[key]
	if ok && r.sessionID == sessionID {
		delete(c.timers, key)
	}
	c.timersMu.Unlock()
	if ok && r.sessionID == sessionID {
		r.timer.Stop()
	}
}

// readinessExpired warns the room when the handshake has not completed. The
// room stays open.
func (c *Coordinator) readinessExpired(key battle.RoomKey, sessionID string) {
	c.timersMu.Lock()
	if r, ok := c.timers[key]; ok && r.sessionID == sessionID {
		delete(c.timers, key)
	}
	c.timersMu.Unlock()

	room, overdue := c.battles.ReadinessOverdue(key, sessionID)
	if !overdue {
		return
	}
	c.broadcast(room.Key, protocol.EventCombatTimeout, protocol.CombatTimeout{
		BattleRoom: string(room.Key),
		Message:    "Opponent did not become ready in time",
	})
	c.logger.Info("combat readiness timed out", zap.String("battle_room", string(room.Key)))
}

type validator interface {
	Validate() error
}

func decodeValid(env protocol.Envelope, v validator) error {
	if err := env.DecodePayload(v); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	return nil
}

func isDropped(err error) bool {
	return errors.Is(err, battle.ErrNoSuchRoom) ||
		errors.Is(err, battle.ErrRoomEnded) ||
		errors.Is(err, battle.ErrNotParticipant)
}
