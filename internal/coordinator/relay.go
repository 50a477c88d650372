package coordinator

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/game/battle"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/protocol"
)

// The relay forwards combat events to the whole room without interpreting
// them. Only participants of an active room are relayed; everything else is
// dropped without a reply.

func (c *Coordinator) handleShipMove(id identity.Identity, env protocol.Envelope) error {
	var req protocol.ShipMove
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	room, err := c.relayRoom(id, req.BattleRoom, env.Type)
	if err != nil {
		return err
	}
	c.broadcast(room.Key, protocol.EventOpponentMove, protocol.OpponentMove{
		BattleRoom: string(room.Key),
		PlayerID:   id.PlayerID,
		ShipID:     req.ShipID,
		Position:   *req.Position,
		Timestamp:  c.opts.Now().UTC(),
	})
	return nil
}

func (c *Coordinator) handleShipAttack(id identity.Identity, env protocol.Envelope) error {
	var req protocol.ShipAttack
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	room, err := c.relayRoom(id, req.BattleRoom, env.Type)
	if err != nil {
		return err
	}
	c.broadcast(room.Key, protocol.EventOpponentAttack, protocol.OpponentAttack{
		BattleRoom: string(room.Key),
		PlayerID:   id.PlayerID,
		AttackerID: req.AttackerID,
		TargetID:   req.TargetID,
		Damage:     req.DamageOrDefault(),
		Timestamp:  c.opts.Now().UTC(),
	})
	return nil
}

func (c *Coordinator) handleShipPatrol(id identity.Identity, env protocol.Envelope) error {
	var req protocol.ShipPatrol
	if err := decodeValid(env, &req); err != nil {
		return err
	}
	room, err := c.relayRoom(id, req.BattleRoom, env.Type)
	if err != nil {
		return err
	}
	c.broadcast(room.Key, protocol.EventOpponentPatrol, protocol.OpponentPatrol{
		BattleRoom:   string(room.Key),
		PlayerID:     id.PlayerID,
		ShipID:       req.ShipID,
		PatrolPoints: req.PatrolPoints,
		Timestamp:    c.opts.Now().UTC(),
	})
	return nil
}

func (c *Coordinator) relayRoom(id identity.Identity, key, event string) (battle.Room, error) {
	room, err := c.battles.ActiveRoomFor(battle.RoomKey(key), id.PlayerID)
	if err != nil {
		if isDropped(err) {
			c.logger.Debug("relay dropped",
				zap.String("event", event),
				zap.String("battle_room", key),
				zap.Int64("player_id", id.PlayerID),
				zap.Error(err),
			)
		}
		return battle.Room{}, err
	}
	return room, nil
}
