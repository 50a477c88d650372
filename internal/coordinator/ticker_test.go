package coordinator_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/massgravity/internal/coordinator"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/protocol"
)

func TestResourceTicker_ReconcileFollowsPredicate(t *testing.T) {
	var active atomic.Bool
	var ticks atomic.Int32
	rt := coordinator.NewResourceTicker(10*time.Millisecond, active.Load, func(context.Context) {
		ticks.Add(1)
	}, zaptest.NewLogger(t))
	defer rt.Stop()

	rt.Reconcile()
	assert.False(t, rt.Running())

	active.Store(true)
	rt.Reconcile()
	rt.Reconcile()
	assert.True(t, rt.Running())
	assert.Equal(t, 1, rt.Starts())

	assert.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)

	active.Store(false)
	rt.Reconcile()
	assert.False(t, rt.Running())

	active.Store(true)
	rt.Reconcile()
	assert.Equal(t, 2, rt.Starts())
}

func TestResourceTicker_ConcurrentReconcileStartsOnce(t *testing.T) {
	var active atomic.Bool
	active.Store(true)
	rt := coordinator.NewResourceTicker(time.Hour, active.Load, func(context.Context) {}, zaptest.NewLogger(t))
	defer rt.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Reconcile()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, rt.Starts())
}

// Ticks from a winding-down loop never overlap ticks from its replacement.
func TestResourceTicker_TicksNeverOverlap(t *testing.T) {
	var active atomic.Bool
	active.Store(true)
	var inTick, overlaps atomic.Int32
	rt := coordinator.NewResourceTicker(2*time.Millisecond, active.Load, func(context.Context) {
		if inTick.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(3 * time.Millisecond)
		inTick.Add(-1)
	}, zaptest.NewLogger(t))

	for i := 0; i < 20; i++ {
		active.Store(i%2 == 0)
		rt.Reconcile()
		time.Sleep(2 * time.Millisecond)
	}
	rt.Stop()
	assert.Zero(t, overlaps.Load())
}

func TestResourceTicker_StopIsFinal(t *testing.T) {
	var active atomic.Bool
	active.Store(true)
	rt := coordinator.NewResourceTicker(time.Hour, active.Load, func(context.Context) {}, zaptest.NewLogger(t))
	rt.Stop()
	rt.Reconcile()
	assert.False(t, rt.Running())
}

func TestNewResourceTicker_PanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		coordinator.NewResourceTicker(0, func() bool { return true }, func(context.Context) {}, zaptest.NewLogger(t))
	})
}

func TestCoordinator_TickerLifecycleFollowsPresence(t *testing.T) {
	h := newHarness(t, coordinator.Options{})
	assert.False(t, h.c.Stats().TickerRunning)

	a := h.connect(alice)
	b := h.connect(bob)
	assert.True(t, h.c.Stats().TickerRunning)

	h.c.Disconnect(alice, a)
	assert.True(t, h.c.Stats().TickerRunning)
	h.c.Disconnect(bob, b)
	assert.False(t, h.c.Stats().TickerRunning)

	h.connect(alice)
	assert.True(t, h.c.Stats().TickerRunning)
}

func TestCoordinator_TickPushesAndAccrues(t *testing.T) {
	h := newHarness(t, coordinator.Options{TickInterval: 10 * time.Millisecond})
	last := h.clock.Now()
	h.seed(1, state.Document{MiningFacilities: map[string]int{"earth": 1}, LastUpdated: &last})
	a := h.connect(alice)

	// Within the minimum interval the tick still pushes the unchanged document.
	var doc state.Document
	expectPayload(t, a, protocol.EventResourceUpdate, &doc)
	assert.Zero(t, doc.Resources)

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return h.stored(1).Resources > 0
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 5.0, h.stored(1).Resources, 1e-9)
}

func TestCoordinator_TickIsolatesPersistenceFailures(t *testing.T) {
	h := newHarness(t, coordinator.Options{TickInterval: 10 * time.Millisecond})
	last := h.clock.Now()
	h.seed(2, state.Document{MiningFacilities: map[string]int{"earth": 2}, LastUpdated: &last})
	h.connect(alice)
	b := h.connect(bob)
	h.store.failFor(1)

	h.clock.Advance(time.Minute)
	var doc state.Document
	require.Eventually(t, func() bool {
		select {
		case data := <-b.Events():
			env, err := protocol.Decode(data)
			if err != nil || env.Type != protocol.EventResourceUpdate {
				return false
			}
			if err := env.DecodePayload(&doc); err != nil {
				return false
			}
			return doc.Resources > 0
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 10.0, doc.Resources, 1e-9)
}

func TestCoordinator_CloseStopsTicker(t *testing.T) {
	h := newHarness(t, coordinator.Options{TickInterval: 5 * time.Millisecond})
	e := presence.NewEntity(64)
	require.NoError(t, h.c.Connect(context.Background(), alice, e))
	h.c.Close()
	assert.False(t, h.c.Stats().TickerRunning)
}
