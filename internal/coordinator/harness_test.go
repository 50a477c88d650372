package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/massgravity/internal/coordinator"
	"github.com/cory-johannsen/massgravity/internal/game/accrual"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/protocol"
	"github.com/cory-johannsen/massgravity/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type staticRates struct{ rates accrual.Rates }

func (s staticRates) Rates(context.Context) (accrual.Rates, error) { return s.rates, nil }

// failingStore fails every call for the players in fail.
type failingStore struct {
	*memory.Store
	mu   sync.Mutex
	fail map[int64]bool
}

func (f *failingStore) failFor(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[id] = true
}

func (f *failingStore) failing(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail[id]
}

func (f *failingStore) LoadGameState(ctx context.Context, id int64) (state.Document, error) {
	if f.failing(id) {
		return state.Document{}, errors.New("database unavailable")
	}
	return f.Store.LoadGameState(ctx, id)
}

func (f *failingStore) SaveGameState(ctx context.Context, id int64, doc state.Document) error {
	if f.failing(id) {
		return errors.New("database unavailable")
	}
	return f.Store.SaveGameState(ctx, id, doc)
}

type harness struct {
	t        *testing.T
	c        *coordinator.Coordinator
	store    *failingStore
	clock    *fakeClock
	registry *presence.Registry
}

func newHarness(t *testing.T, opts coordinator.Options) *harness {
	t.Helper()
	return newHarnessWithRates(t, opts, staticRates{accrual.DefaultRates()})
}

func newHarnessWithRates(t *testing.T, opts coordinator.Options, rates coordinator.RatesProvider) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Hour
	}
	opts.Now = clock.Now
	logger := zaptest.NewLogger(t)
	registry := presence.NewRegistry()
	store := &failingStore{Store: memory.NewStore(), fail: make(map[int64]bool)}
	bcast := coordinator.NewLocalBroadcaster(registry.ChannelFor, logger)
	c := coordinator.New(registry, store, rates, bcast, opts, logger)
	t.Cleanup(c.Close)
	return &harness{t: t, c: c, store: store, clock: clock, registry: registry}
}

func player(id int64, name string, faction state.Faction) identity.Identity {
	return identity.Identity{PlayerID: id, Username: name, Faction: faction}
}

// connect registers id and consumes the catch-up resource_update.
func (h *harness) connect(id identity.Identity) *presence.Entity {
	h.t.Helper()
	e := presence.NewEntity(64)
	require.NoError(h.t, h.c.Connect(context.Background(), id, e))
	expect(h.t, e, protocol.EventResourceUpdate)
	return e
}

func (h *harness) send(id identity.Identity, ch presence.Channel, eventType string, payload any) error {
	h.t.Helper()
	env := protocol.Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(h.t, err)
		env.Payload = raw
	}
	return h.c.Dispatch(context.Background(), id, ch, env)
}

func (h *harness) seed(id int64, doc state.Document) {
	h.t.Helper()
	require.NoError(h.t, h.store.Store.SaveGameState(context.Background(), id, doc))
}

func (h *harness) stored(id int64) state.Document {
	h.t.Helper()
	doc, err := h.store.Store.LoadGameState(context.Background(), id)
	require.NoError(h.t, err)
	return doc
}

// expect reads events from e until one of eventType arrives.
func expect(t *testing.T, e *presence.Entity, eventType string) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-e.Events():
			require.True(t, ok, "channel closed waiting for %s", eventType)
			env, err := protocol.Decode(data)
			require.NoError(t, err)
			if env.Type == eventType {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
			return protocol.Envelope{}
		}
	}
}

// expectPayload reads the next eventType event and decodes its payload into v.
func expectPayload(t *testing.T, e *presence.Entity, eventType string, v any) {
	t.Helper()
	env := expect(t, e, eventType)
	require.NoError(t, json.Unmarshal(env.Payload, v))
}

// refuse drains e for wait and fails if any eventType event arrives.
func refuse(t *testing.T, e *presence.Entity, eventType string, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case data, ok := <-e.Events():
			if !ok {
				return
			}
			env, err := protocol.Decode(data)
			require.NoError(t, err)
			if env.Type == eventType {
				t.Fatalf("unexpected %s event: %s", eventType, env.Payload)
			}
		case <-deadline:
			return
		}
	}
}

func ptr[T any](v T) *T { return &v }
