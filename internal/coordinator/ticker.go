package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ResourceTicker runs a periodic tick while its activity predicate holds.
//
// Invariant: at most one loop is live and at most one tick body runs at a
// time, even while a cancelled loop is still winding down.
type ResourceTicker struct {
	interval time.Duration
	active   func() bool
	tick     func(ctx context.Context)
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	starts int
	closed bool

	tickMu sync.Mutex
	wg     sync.WaitGroup
}

// NewResourceTicker returns a stopped ticker.
//
// Precondition: interval must be > 0; active and tick must not be nil.
func NewResourceTicker(interval time.Duration, active func() bool, tick func(ctx context.Context), logger *zap.Logger) *ResourceTicker {
	if interval <= 0 {
		panic("coordinator.NewResourceTicker: interval must be > 0")
	}
	return &ResourceTicker{
		interval: interval,
		active:   active,
		tick:     tick,
		logger:   logger,
	}
}

// Reconcile starts the loop if the predicate holds and no loop is live, and
// stops the live loop if it no longer holds. The predicate is evaluated
// under the ticker lock, so the last caller always observes the latest state.
func (t *ResourceTicker) Reconcile() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	active := t.active()
	switch {
	case active && t.cancel == nil:
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.starts++
		t.wg.Add(1)
		go t.loop(ctx)
		t.logger.Debug("resource ticker started", zap.Int("run", t.starts))
	case !active && t.cancel != nil:
		t.cancel()
		t.cancel = nil
		t.logger.Debug("resource ticker stopped")
	}
}

func (t *ResourceTicker) loop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tickMu.Lock()
			if ctx.Err() == nil {
				t.tick(ctx)
			}
			t.tickMu.Unlock()
		}
	}
}

// Running reports whether a loop is live.
func (t *ResourceTicker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel != nil
}

// Stop cancels the live loop and waits for every loop to exit. Later
// Reconcile calls are ignored.
func (t *ResourceTicker) Stop() {
	t.mu.Lock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
}
