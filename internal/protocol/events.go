package protocol

import (
	"fmt"
	"time"

	"github.com/cory-johannsen/massgravity/internal/game/state"
)

// Inbound event types.
const (
	EventSaveGame         = "save_game"
	EventRequestUpdate    = "request_update"
	EventGetActivePlayers = "get_active_players"
	EventRequestBattle    = "request_battle"
	EventAcceptBattle     = "accept_battle"
	EventDeclineBattle    = "decline_battle"
	EventJoinCombat       = "join_combat"
	EventCombatReady      = "combat_ready"
	EventShipMove         = "ship_move"
	EventShipAttack       = "ship_attack"
	EventShipPatrol       = "ship_patrol"
	EventEndBattle        = "end_battle"
	EventCancelBattle     = "cancel_battle"
)

// Outbound event types.
const (
	EventResourceUpdate      = "resource_update"
	EventSaveSuccess         = "save_success"
	EventSaveError           = "save_error"
	EventActivePlayersList   = "active_players_list"
	EventBattleRequest       = "battle_request"
	EventBattleRequestSent   = "battle_request_sent"
	EventBattleRequestError  = "battle_request_error"
	EventBattleAccepted      = "battle_accepted"
	EventBattleResponseError = "battle_response_error"
	EventBattleDeclined      = "battle_declined"
	EventBattleCancelled     = "battle_cancelled"
	EventCombatJoined        = "combat_joined"
	EventOpponentReady       = "opponent_ready"
	EventCombatSynchronized  = "combat_synchronized"
	EventCombatTimeout       = "combat_timeout"
	EventOpponentMove        = "opponent_move"
	EventOpponentAttack      = "opponent_attack"
	EventOpponentPatrol      = "opponent_patrol"
	EventBattleEnded         = "battle_ended"
)

// DefaultDamage is the attack damage relayed when the client omits one.
const DefaultDamage = 1.0

// Position is a point in combat space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// RequestBattle asks the named player to battle.
type RequestBattle struct {
	TargetID int64 `json:"target_id"`
}

// Validate reports whether the payload names a target.
func (p RequestBattle) Validate() error {
	if p.TargetID <= 0 {
		return fmt.Errorf("%w: target_id is required", ErrMalformed)
	}
	return nil
}

// BattleResponse answers the invitation sent by RequesterID.
type BattleResponse struct {
	RequesterID int64 `json:"requester_id"`
}

// Validate reports whether the payload names a requester.
func (p BattleResponse) Validate() error {
	if p.RequesterID <= 0 {
		return fmt.Errorf("%w: requester_id is required", ErrMalformed)
	}
	return nil
}

// OpponentRef names the counterpart of a pair.
type OpponentRef struct {
	OpponentID int64 `json:"opponent_id"`
}

// Validate reports whether the payload names an opponent.
func (p OpponentRef) Validate() error {
	if p.OpponentID <= 0 {
		return fmt.Errorf("%w: opponent_id is required", ErrMalformed)
	}
	return nil
}

// RoomRef names a combat room.
type RoomRef struct {
	BattleRoom string `json:"battle_room"`
}

// Validate reports whether the payload names a room.
func (p RoomRef) Validate() error {
	if p.BattleRoom == "" {
		return fmt.Errorf("%w: battle_room is required", ErrMalformed)
	}
	return nil
}

// ShipMove reports a ship moving to Position.
type ShipMove struct {
	BattleRoom string    `json:"battle_room"`
	ShipID     string    `json:"ship_id"`
	Position   *Position `json:"position"`
}

// Validate reports whether the move is complete enough to relay.
func (p ShipMove) Validate() error {
	if p.BattleRoom == "" || p.ShipID == "" || p.Position == nil {
		return fmt.Errorf("%w: battle_room, ship_id and position are required", ErrMalformed)
	}
	return nil
}

// ShipAttack reports one ship attacking another.
type ShipAttack struct {
	BattleRoom string   `json:"battle_room"`
	AttackerID string   `json:"attacker_id"`
	TargetID   string   `json:"target_id"`
	Damage     *float64 `json:"damage,omitempty"`
}

// Validate reports whether the attack is complete enough to relay.
func (p ShipAttack) Validate() error {
	if p.BattleRoom == "" || p.AttackerID == "" || p.TargetID == "" {
		return fmt.Errorf("%w: battle_room, attacker_id and target_id are required", ErrMalformed)
	}
	return nil
}

// DamageOrDefault returns the supplied damage or DefaultDamage.
func (p ShipAttack) DamageOrDefault() float64 {
	if p.Damage == nil {
		return DefaultDamage
	}
	return *p.Damage
}

// ShipPatrol reports a ship patrolling between points.
type ShipPatrol struct {
	BattleRoom   string     `json:"battle_room"`
	ShipID       string     `json:"ship_id"`
	PatrolPoints []Position `json:"patrol_points"`
}

// Validate reports whether the patrol is complete enough to relay.
func (p ShipPatrol) Validate() error {
	if p.BattleRoom == "" || p.ShipID == "" || len(p.PatrolPoints) == 0 {
		return fmt.Errorf("%w: battle_room, ship_id and patrol_points are required", ErrMalformed)
	}
	return nil
}

// EndBattle closes a combat room.
type EndBattle struct {
	BattleRoom string `json:"battle_room"`
	Winner     *int64 `json:"winner,omitempty"`
	Result     string `json:"result,omitempty"`
}

// Validate reports whether the payload names a room.
func (p EndBattle) Validate() error {
	if p.BattleRoom == "" {
		return fmt.Errorf("%w: battle_room is required", ErrMalformed)
	}
	return nil
}

// SaveSuccess confirms a save and carries the post-save document.
type SaveSuccess struct {
	Success     bool           `json:"success"`
	UpdatedData state.Document `json:"updated_data"`
}

// Message carries a human-readable error or notice.
type Message struct {
	Message string `json:"message"`
}

// PlayerSummary is one entry of the active players list.
type PlayerSummary struct {
	ID       int64         `json:"id"`
	Username string        `json:"username"`
	Faction  state.Faction `json:"faction"`
}

// ActivePlayers lists the other connected players.
type ActivePlayers struct {
	Players []PlayerSummary `json:"players"`
}

// BattleRequest notifies a target of an invitation.
type BattleRequest struct {
	FromID      int64         `json:"from_id"`
	FromName    string        `json:"from_name"`
	FromFaction state.Faction `json:"from_faction"`
}

// BattleRequestSent confirms an invitation to the requester.
type BattleRequestSent struct {
	TargetID   int64  `json:"target_id"`
	TargetName string `json:"target_name"`
}

// BattleAccepted tells each side a room has opened.
type BattleAccepted struct {
	OpponentID      int64         `json:"opponent_id"`
	OpponentName    string        `json:"opponent_name"`
	OpponentFaction state.Faction `json:"opponent_faction"`
	BattleRoom      string        `json:"battle_room"`
	IsRequester     bool          `json:"is_requester"`
	PlayerShips     state.Ships   `json:"player_ships"`
	OpponentShips   state.Ships   `json:"opponent_ships"`
}

// OpponentInfo names the counterpart of a declined or cancelled battle.
type OpponentInfo struct {
	OpponentID   int64  `json:"opponent_id"`
	OpponentName string `json:"opponent_name"`
	Reason       string `json:"reason,omitempty"`
}

// CombatJoined describes the room a player has re-entered.
type CombatJoined struct {
	BattleRoom    string `json:"battle_room"`
	OpponentID    int64  `json:"opponent_id"`
	PlayerReady   bool   `json:"player_ready"`
	OpponentReady bool   `json:"opponent_ready"`
	Synchronized  bool   `json:"synchronized"`
}

// OpponentReady tells a participant the other side is ready.
type OpponentReady struct {
	BattleRoom string `json:"battle_room"`
	PlayerID   int64  `json:"player_id"`
}

// CombatSynchronized announces that both participants are ready.
type CombatSynchronized struct {
	BattleRoom string    `json:"battle_room"`
	StartTime  time.Time `json:"start_time"`
}

// CombatTimeout warns that readiness did not complete in time.
type CombatTimeout struct {
	BattleRoom string `json:"battle_room"`
	Message    string `json:"message"`
}

// OpponentMove relays a ship movement.
type OpponentMove struct {
	BattleRoom string    `json:"battle_room"`
	PlayerID   int64     `json:"player_id"`
	ShipID     string    `json:"ship_id"`
	Position   Position  `json:"position"`
	Timestamp  time.Time `json:"timestamp"`
}

// OpponentAttack relays a ship attack.
type OpponentAttack struct {
	BattleRoom string    `json:"battle_room"`
	PlayerID   int64     `json:"player_id"`
	AttackerID string    `json:"attacker_id"`
	TargetID   string    `json:"target_id"`
	Damage     float64   `json:"damage"`
	Timestamp  time.Time `json:"timestamp"`
}

// OpponentPatrol relays a patrol order.
type OpponentPatrol struct {
	BattleRoom   string     `json:"battle_room"`
	PlayerID     int64      `json:"player_id"`
	ShipID       string     `json:"ship_id"`
	PatrolPoints []Position `json:"patrol_points"`
	Timestamp    time.Time  `json:"timestamp"`
}

// BattleEnded announces the end of a room.
type BattleEnded struct {
	BattleRoom string    `json:"battle_room"`
	Winner     *int64    `json:"winner"`
	Result     string    `json:"result,omitempty"`
	EndedBy    int64     `json:"ended_by"`
	EndTime    time.Time `json:"end_time"`
}
