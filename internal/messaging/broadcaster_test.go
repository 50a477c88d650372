package messaging_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/massgravity/internal/coordinator"
	"github.com/cory-johannsen/massgravity/internal/game/battle"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/messaging"
)

var _ coordinator.Broadcaster = (*messaging.Broadcaster)(nil)

func newServer(t *testing.T) *messaging.Server {
	t.Helper()
	srv, err := messaging.NewServer(zaptest.NewLogger(t), messaging.WithPort(-1))
	require.NoError(t, err)
	t.Cleanup(srv.Stop)
	return srv
}

func receive(t *testing.T, e *presence.Entity) []byte {
	t.Helper()
	select {
	case data := <-e.Events():
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	srv := newServer(t)
	channels := map[int64]*presence.Entity{1: presence.NewEntity(8), 2: presence.NewEntity(8)}
	lookup := func(id int64) (presence.Channel, bool) {
		e, ok := channels[id]
		return e, ok
	}
	b := messaging.NewBroadcaster(srv.Conn(), lookup, zaptest.NewLogger(t))
	room := battle.KeyFor(1, 2)

	require.NoError(t, b.Join(room, 1))
	require.NoError(t, b.Join(room, 1))
	require.NoError(t, b.Join(room, 2))
	require.NoError(t, b.Join(room, 3))
	assert.Equal(t, 3, b.Members(room))

	require.NoError(t, b.Broadcast(room, []byte("first")))
	require.NoError(t, b.Broadcast(room, []byte("second")))
	assert.Equal(t, []byte("first"), receive(t, channels[1]))
	assert.Equal(t, []byte("second"), receive(t, channels[1]))
	assert.Equal(t, []byte("first"), receive(t, channels[2]))
	assert.Equal(t, []byte("second"), receive(t, channels[2]))

	require.NoError(t, b.Close(room))
	assert.Zero(t, b.Members(room))
	require.NoError(t, b.Broadcast(room, []byte("third")))
	require.NoError(t, srv.Conn().Flush())
	assert.Never(t, func() bool { return len(channels[1].Events()) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestBroadcaster_RoomsAreIsolated(t *testing.T) {
	srv := newServer(t)
	a, c := presence.NewEntity(8), presence.NewEntity(8)
	lookup := func(id int64) (presence.Channel, bool) {
		switch id {
		case 1:
			return a, true
		case 3:
			return c, true
		}
		return nil, false
	}
	b := messaging.NewBroadcaster(srv.Conn(), lookup, zaptest.NewLogger(t))
	require.NoError(t, b.Join(battle.KeyFor(1, 2), 1))
	require.NoError(t, b.Join(battle.KeyFor(3, 4), 3))

	require.NoError(t, b.Broadcast(battle.KeyFor(1, 2), []byte("only-a")))
	assert.Equal(t, []byte("only-a"), receive(t, a))
	assert.Never(t, func() bool { return len(c.Events()) > 0 }, 50*time.Millisecond, 10*time.Millisecond)
}

func TestServer_StopUnblocksStart(t *testing.T) {
	srv, err := messaging.NewServer(zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotEmpty(t, srv.ClientURL())

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	srv.Stop()
	srv.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "massgravity.room.battle_1_2", messaging.Subject(battle.KeyFor(2, 1)))
}
