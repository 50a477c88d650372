// Package battle holds the two-party battle negotiation tables: outstanding
// invitations keyed by target and combat rooms keyed by participant pair.
package battle

import (
	"errors"
	"fmt"
	"time"

	"github.com/cory-johannsen/massgravity/internal/game/state"
)

var (
	// ErrNoSuchInvitation is returned when no pending invitation matches.
	ErrNoSuchInvitation = errors.New("no such invitation")
	// ErrNoSuchRoom is returned when a room key resolves to nothing.
	ErrNoSuchRoom = errors.New("no such room")
	// ErrRoomEnded is returned when an operation targets an ended room.
	ErrRoomEnded = errors.New("room has ended")
	// ErrNotParticipant is returned when the acting player is not in the room.
	ErrNotParticipant = errors.New("not a participant")
	// ErrSelfBattle is returned when both sides of a pair are the same player.
	ErrSelfBattle = errors.New("cannot battle yourself")
)

// RoomKey identifies a combat room by its two participants, independent of order.
type RoomKey string

// KeyFor returns the canonical room key for the pair (a, b).
//
// Postcondition: KeyFor(a, b) == KeyFor(b, a).
func KeyFor(a, b int64) RoomKey {
	if a > b {
		a, b = b, a
	}
	return RoomKey(fmt.Sprintf("battle_%d_%d", a, b))
}

// Status is the lifecycle state of a combat room.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Participant is a player taking part in negotiation.
type Participant struct {
	ID       int64
	Username string
	Faction  state.Faction
}

// Invitation is an outstanding battle request awaiting the target's answer.
type Invitation struct {
	Requester Participant
	TargetID  int64
	CreatedAt time.Time
}

// Room is the shared battle state for exactly two participants.
//
// A Key is reused when the same pair battles again; SessionID distinguishes
// successive rooms under one key.
type Room struct {
	Key          RoomKey
	SessionID    string
	Player1      int64
	Player2      int64
	Ready1       bool
	Ready2       bool
	Synchronized bool
	StartedAt    time.Time
	Status       Status
	Winner       *int64
	Result       string
	EndedBy      int64
	EndedAt      *time.Time
}

// Has reports whether playerID is one of the two participants.
func (r Room) Has(playerID int64) bool {
	return playerID == r.Player1 || playerID == r.Player2
}

// Opponent returns the other participant, or 0 when playerID is not in the room.
func (r Room) Opponent(playerID int64) int64 {
	switch playerID {
	case r.Player1:
		return r.Player2
	case r.Player2:
		return r.Player1
	}
	return 0
}

// IsReady reports the readiness flag of playerID.
func (r Room) IsReady(playerID int64) bool {
	switch playerID {
	case r.Player1:
		return r.Ready1
	case r.Player2:
		return r.Ready2
	}
	return false
}

// BothReady reports whether both readiness flags are set.
func (r Room) BothReady() bool {
	return r.Ready1 && r.Ready2
}

// Active reports whether the room still accepts combat events.
func (r Room) Active() bool {
	return r.Status == StatusActive
}

func (r *Room) clone() Room {
	out := *r
	if r.Winner != nil {
		w := *r.Winner
		out.Winner = &w
	}
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return out
}
