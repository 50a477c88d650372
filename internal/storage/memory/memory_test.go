package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/storage/memory"
)

func TestStore_UnknownPlayerLoadsEmpty(t *testing.T) {
	doc, err := memory.NewStore().LoadGameState(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, doc.LastUpdated)
	assert.Zero(t, doc.Resources)
}

func TestStore_SaveIsolatesCopies(t *testing.T) {
	s := memory.NewStore()
	ctx := context.Background()
	now := time.Now().UTC()
	doc := state.Document{Resources: 10, MiningFacilities: map[string]int{"a": 1}, LastUpdated: &now}
	require.NoError(t, s.SaveGameState(ctx, 1, doc))

	doc.MiningFacilities["a"] = 99
	got, err := s.LoadGameState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MiningFacilities["a"])

	got.Resources = 0
	again, _ := s.LoadGameState(ctx, 1)
	assert.Equal(t, 10.0, again.Resources)
}

func TestStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := memory.NewStore().LoadGameState(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_RegisterAndAuthenticate(t *testing.T) {
	s := memory.NewStore()
	acct, err := s.Register("alice", "pw", state.FactionRed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), acct.ID)

	_, err = s.Register("alice", "other", state.FactionBlue)
	assert.ErrorIs(t, err, memory.ErrAccountExists)

	got, err := s.Authenticate(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, acct, got)

	_, err = s.Authenticate(context.Background(), "alice", "bad")
	assert.ErrorIs(t, err, memory.ErrInvalidCredentials)
	_, err = s.Authenticate(context.Background(), "bob", "pw")
	assert.ErrorIs(t, err, memory.ErrInvalidCredentials)
}

func TestStore_RegisterRejectsBadInput(t *testing.T) {
	s := memory.NewStore()
	_, err := s.Register("", "pw", state.FactionBlue)
	assert.Error(t, err)
	_, err = s.Register("bob", "pw", state.Faction("purple"))
	assert.Error(t, err)
}
