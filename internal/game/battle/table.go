package battle

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Table owns the pending invitation table and the combat room table.
// Every method is a single critical section; returned values are copies.
type Table struct {
	mu      sync.Mutex
	pending map[int64]Invitation
	rooms   map[RoomKey]*Room
}

// NewTable creates an empty Table.
//
// Postcondition: Returns a non-nil Table ready for use.
func NewTable() *Table {
	return &Table{
		pending: make(map[int64]Invitation),
		rooms:   make(map[RoomKey]*Room),
	}
}

// Invite records inv as the single pending invitation for its target.
//
// Precondition: inv.Requester.ID and inv.TargetID must differ.
// Postcondition: Returns the invitation it superseded, if any.
func (t *Table) Invite(inv Invitation) (superseded *Invitation, err error) {
	if inv.Requester.ID == inv.TargetID {
		return nil, ErrSelfBattle
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.pending[inv.TargetID]; ok {
		superseded = &prev
	}
	t.pending[inv.TargetID] = inv
	return superseded, nil
}

// TakeInvitation removes and returns targetID's invitation if it was sent by requesterID.
//
// Postcondition: Returns ErrNoSuchInvitation and leaves the table unchanged
// when there is no invitation or it names a different requester.
func (t *Table) TakeInvitation(targetID, requesterID int64) (Invitation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inv, ok := t.pending[targetID]
	if !ok || inv.Requester.ID != requesterID {
		return Invitation{}, fmt.Errorf("%w: target %d requester %d", ErrNoSuchInvitation, targetID, requesterID)
	}
	delete(t.pending, targetID)
	return inv, nil
}

// OpenRoom creates a fresh active room for the pair, replacing any prior room under the same key.
//
// Precondition: a and b must differ.
// Postcondition: Returns the new Room with both readiness flags false.
func (t *Table) OpenRoom(a, b int64, now time.Time) (Room, error) {
	if a == b {
		return Room{}, ErrSelfBattle
	}
	room := &Room{
		Key:       KeyFor(a, b),
		SessionID: uuid.NewString(),
		Player1:   a,
		Player2:   b,
		StartedAt: now,
		Status:    StatusActive,
	}
	t.mu.Lock()
	t.rooms[room.Key] = room
	t.mu.Unlock()
	return room.clone(), nil
}

// Room returns the room stored under key.
func (t *Table) Room(key RoomKey) (Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[key]
	if !ok {
		return Room{}, false
	}
	return r.clone(), true
}

// ActiveRoomFor returns the room under key when it is active and playerID participates.
//
// Postcondition: Returns ErrNoSuchRoom, ErrRoomEnded or ErrNotParticipant otherwise.
func (t *Table) ActiveRoomFor(key RoomKey, playerID int64) (Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.activeLocked(key, playerID)
	if err != nil {
		return Room{}, err
	}
	return r.clone(), nil
}

func (t *Table) activeLocked(key RoomKey, playerID int64) (*Room, error) {
	r, ok := t.rooms[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchRoom, key)
	}
	if !r.Has(playerID) {
		return nil, fmt.Errorf("%w: player %d in %s", ErrNotParticipant, playerID, key)
	}
	if !r.Active() {
		return nil, fmt.Errorf("%w: %s", ErrRoomEnded, key)
	}
	return r, nil
}

// MarkReady sets playerID's readiness flag on the room under key.
//
// Postcondition: changed is true when the flag was previously unset.
// synchronized is true only for the call that completed the handshake, so
// the caller observes the transition exactly once.
func (t *Table) MarkReady(key RoomKey, playerID int64) (room Room, changed, synchronized bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.activeLocked(key, playerID)
	if err != nil {
		return Room{}, false, false, err
	}
	switch playerID {
	case r.Player1:
		changed = !r.Ready1
		r.Ready1 = true
	case r.Player2:
		changed = !r.Ready2
		r.Ready2 = true
	}
	if r.BothReady() && !r.Synchronized {
		r.Synchronized = true
		synchronized = true
	}
	return r.clone(), changed, synchronized, nil
}

// ReadinessOverdue reports whether the room identified by key and sessionID
// is still active without both participants ready.
func (t *Table) ReadinessOverdue(key RoomKey, sessionID string) (Room, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[key]
	if !ok || r.SessionID != sessionID || !r.Active() || r.BothReady() {
		return Room{}, false
	}
	return r.clone(), true
}

// End marks the room under key ended on behalf of playerID.
//
// Postcondition: The room transitions active to ended at most once; a second
// call returns ErrRoomEnded without mutating the room.
func (t *Table) End(key RoomKey, playerID int64, winner *int64, result string, now time.Time) (Room, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.activeLocked(key, playerID)
	if err != nil {
		return Room{}, err
	}
	r.Status = StatusEnded
	r.EndedBy = playerID
	r.Result = result
	if winner != nil {
		w := *winner
		r.Winner = &w
	}
	ended := now
	r.EndedAt = &ended
	return r.clone(), nil
}

// Cancel clears every invitation between a and b and removes their room.
//
// Postcondition: Returns what was removed; both are zero when nothing existed.
func (t *Table) Cancel(a, b int64) (invitations []Invitation, room *Room) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inv, ok := t.pending[b]; ok && inv.Requester.ID == a {
		invitations = append(invitations, inv)
		delete(t.pending, b)
	}
	if inv, ok := t.pending[a]; ok && inv.Requester.ID == b {
		invitations = append(invitations, inv)
		delete(t.pending, a)
	}
	key := KeyFor(a, b)
	if r, ok := t.rooms[key]; ok {
		c := r.clone()
		room = &c
		delete(t.rooms, key)
	}
	return invitations, room
}

// DropPlayer removes every invitation sent by or addressed to playerID.
// Rooms are left in place.
func (t *Table) DropPlayer(playerID int64) []Invitation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dropped []Invitation
	for target, inv := range t.pending {
		if target == playerID || inv.Requester.ID == playerID {
			dropped = append(dropped, inv)
			delete(t.pending, target)
		}
	}
	return dropped
}

// Sweep evicts rooms ended at least retention ago, and active rooms started
// at least abandonAfter ago whose participants are both offline.
//
// Precondition: isOnline must not acquire the Table lock.
// Postcondition: Returns the evicted rooms.
func (t *Table) Sweep(now time.Time, retention, abandonAfter time.Duration, isOnline func(int64) bool) []Room {
	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []Room
	for key, r := range t.rooms {
		switch {
		case !r.Active() && r.EndedAt != nil && now.Sub(*r.EndedAt) >= retention:
		case r.Active() && now.Sub(r.StartedAt) >= abandonAfter && !isOnline(r.Player1) && !isOnline(r.Player2):
		default:
			continue
		}
		evicted = append(evicted, r.clone())
		delete(t.rooms, key)
	}
	return evicted
}

// Counts returns the number of pending invitations and stored rooms.
func (t *Table) Counts() (pending, rooms int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending), len(t.rooms)
}
