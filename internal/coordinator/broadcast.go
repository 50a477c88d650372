package coordinator

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/game/battle"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
)

// Broadcaster fans encoded events out to the members of a combat room.
// Members are players; delivery resolves each member's live channel at send
// time so a reconnecting player keeps receiving room events.
type Broadcaster interface {
	Join(room battle.RoomKey, playerID int64) error
	Broadcast(room battle.RoomKey, data []byte) error
	Close(room battle.RoomKey) error
}

// ChannelLookup resolves a player's live channel.
type ChannelLookup func(playerID int64) (presence.Channel, bool)

// LocalBroadcaster delivers room events in process.
type LocalBroadcaster struct {
	lookup ChannelLookup
	logger *zap.Logger

	mu    sync.RWMutex
	rooms map[battle.RoomKey]map[int64]struct{}
}

// NewLocalBroadcaster creates a LocalBroadcaster resolving channels through lookup.
//
// Precondition: lookup and logger must not be nil.
func NewLocalBroadcaster(lookup ChannelLookup, logger *zap.Logger) *LocalBroadcaster {
	return &LocalBroadcaster{
		lookup: lookup,
		logger: logger,
		rooms:  make(map[battle.RoomKey]map[int64]struct{}),
	}
}

// Join adds playerID to room. Joining twice is a no-op.
func (b *LocalBroadcaster) Join(room battle.RoomKey, playerID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[int64]struct{}, 2)
		b.rooms[room] = members
	}
	members[playerID] = struct{}{}
	return nil
}

// Broadcast pushes data to every online member of room. Offline members and
// failed pushes are skipped.
func (b *LocalBroadcaster) Broadcast(room battle.RoomKey, data []byte) error {
	b.mu.RLock()
	ids := make([]int64, 0, len(b.rooms[room]))
	for id := range b.rooms[room] {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	for _, id := range ids {
		ch, ok := b.lookup(id)
		if !ok {
			continue
		}
		if err := ch.Push(data); err != nil {
			b.logger.Debug("room broadcast push failed",
				zap.String("battle_room", string(room)),
				zap.Int64("player_id", id),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close drops every member of room.
func (b *LocalBroadcaster) Close(room battle.RoomKey) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, room)
	return nil
}

// Members returns the number of players joined to room.
func (b *LocalBroadcaster) Members(room battle.RoomKey) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}
