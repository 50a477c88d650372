package messaging

import (
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/game/battle"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
)

// SubjectPrefix namespaces room subjects.
const SubjectPrefix = "massgravity.room."

// Subject returns the NATS subject for room.
func Subject(room battle.RoomKey) string {
	return SubjectPrefix + string(room)
}

// Broadcaster publishes room events to a per-room subject. Each joined
// player holds a subscription that forwards to the player's live channel,
// resolved at delivery time.
type Broadcaster struct {
	conn   *nats.Conn
	lookup func(playerID int64) (presence.Channel, bool)
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[battle.RoomKey]map[int64]*nats.Subscription
}

// NewBroadcaster creates a Broadcaster on conn.
//
// Precondition: conn, lookup and logger must be non-nil.
func NewBroadcaster(conn *nats.Conn, lookup func(int64) (presence.Channel, bool), logger *zap.Logger) *Broadcaster {
	if conn == nil || lookup == nil || logger == nil {
		panic("messaging.NewBroadcaster: collaborators must not be nil")
	}
	return &Broadcaster{
		conn:   conn,
		lookup: lookup,
		logger: logger,
		rooms:  make(map[battle.RoomKey]map[int64]*nats.Subscription),
	}
}

// Join subscribes playerID to room. Joining twice is a no-op.
//
// Postcondition: The subscription is registered with the server before Join
// returns, so a following Broadcast reaches the player.
func (b *Broadcaster) Join(room battle.RoomKey, playerID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[room]
	if !ok {
		members = make(map[int64]*nats.Subscription, 2)
		b.rooms[room] = members
	}
	if _, joined := members[playerID]; joined {
		return nil
	}
	sub, err := b.conn.Subscribe(Subject(room), func(msg *nats.Msg) {
		b.deliver(room, playerID, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing player %d to %s: %w", playerID, room, err)
	}
	if err := b.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flushing subscription for %s: %w", room, err)
	}
	members[playerID] = sub
	return nil
}

// Broadcast publishes data on the room subject.
func (b *Broadcaster) Broadcast(room battle.RoomKey, data []byte) error {
	if err := b.conn.Publish(Subject(room), data); err != nil {
		return fmt.Errorf("publishing to %s: %w", room, err)
	}
	return nil
}

// Close unsubscribes every member of room.
func (b *Broadcaster) Close(room battle.RoomKey) error {
	b.mu.Lock()
	members := b.rooms[room]
	delete(b.rooms, room)
	b.mu.Unlock()

	var firstErr error
	for _, sub := range members {
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Members returns the number of players subscribed to room.
func (b *Broadcaster) Members(room battle.RoomKey) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[room])
}

func (b *Broadcaster) deliver(room battle.RoomKey, playerID int64, data []byte) {
	ch, ok := b.lookup(playerID)
	if !ok {
		return
	}
	if err := ch.Push(data); err != nil {
		b.logger.Debug("room broadcast push failed",
			zap.String("battle_room", string(room)),
			zap.Int64("player_id", playerID),
			zap.Error(err),
		)
	}
}
