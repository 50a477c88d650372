// Package coordinator owns the shared real-time state of connected players:
// presence, periodic resource accrual, battle negotiation and combat relay.
// Transports feed it connect, disconnect and inbound events; it pushes
// outbound events back through each player's presence.Channel.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/game/accrual"
	"github.com/cory-johannsen/massgravity/internal/game/battle"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/protocol"
)

// GameStateStore loads and saves a player's game-state document.
// Each call must be atomic for that player.
type GameStateStore interface {
	LoadGameState(ctx context.Context, playerID int64) (state.Document, error)
	SaveGameState(ctx context.Context, playerID int64, doc state.Document) error
}

// RatesProvider supplies the current production rates.
type RatesProvider interface {
	Rates(ctx context.Context) (accrual.Rates, error)
}

// Options tunes coordinator timing. Zero fields take their defaults.
type Options struct {
	TickInterval     time.Duration
	ReadinessTimeout time.Duration
	RoomRetention    time.Duration
	AbandonAfter     time.Duration
	SweepInterval    time.Duration
	PersistTimeout   time.Duration
	// Now overrides the wall clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 5 * time.Second
	}
	if o.ReadinessTimeout <= 0 {
		o.ReadinessTimeout = 10 * time.Second
	}
	if o.RoomRetention <= 0 {
		o.RoomRetention = 5 * time.Minute
	}
	if o.AbandonAfter <= 0 {
		o.AbandonAfter = 30 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = 5 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Stats is a point-in-time view of coordinator state.
type Stats struct {
	Online         int
	PendingBattles int
	Rooms          int
	TickerRunning  bool
}

type readiness struct {
	sessionID string
	timer     *battle.Timer
}

// Coordinator is the single owner of presence, battle and room state.
// All methods are safe for concurrent use.
type Coordinator struct {
	registry    *presence.Registry
	battles     *battle.Table
	store       GameStateStore
	rates       RatesProvider
	broadcaster Broadcaster
	ticker      *ResourceTicker
	locks       *playerLocks
	opts        Options
	logger      *zap.Logger

	timersMu sync.Mutex
	timers   map[battle.RoomKey]readiness
}

// New creates a Coordinator over the given collaborators.
//
// Precondition: every argument must be non-nil.
// Postcondition: Returns a Coordinator with a stopped ticker; the ticker
// starts when the first player connects.
func New(registry *presence.Registry, store GameStateStore, rates RatesProvider, broadcaster Broadcaster, opts Options, logger *zap.Logger) *Coordinator {
	if registry == nil || store == nil || rates == nil || broadcaster == nil || logger == nil {
		panic("coordinator.New: collaborators must not be nil")
	}
	c := &Coordinator{
		registry:    registry,
		battles:     battle.NewTable(),
		store:       store,
		rates:       rates,
		broadcaster: broadcaster,
		locks:       newPlayerLocks(),
		opts:        opts.withDefaults(),
		logger:      logger,
		timers:      make(map[battle.RoomKey]readiness),
	}
	c.ticker = NewResourceTicker(c.opts.TickInterval, func() bool {
		return c.registry.Count() > 0
	}, c.tick, logger)
	return c
}

// Connect registers a live connection, replacing any prior one for the
// player, and pushes an immediate catch-up resource_update.
//
// Postcondition: Returns ErrUnauthenticated for an unauthenticated identity;
// persistence failures during catch-up are logged, not returned.
func (c *Coordinator) Connect(ctx context.Context, id identity.Identity, ch presence.Channel) error {
	if !id.Authenticated() {
		c.logger.Debug("connect without identity dropped")
		return ErrUnauthenticated
	}
	replaced, _ := c.registry.Connect(id, ch, c.opts.Now())
	c.ticker.Reconcile()

	log := c.logger.With(zap.Int64("player_id", id.PlayerID), zap.String("conn_id", ch.ID()))
	if replaced != nil {
		log.Info("player reconnected", zap.String("replaced_conn_id", replaced.ID()))
	} else {
		log.Info("player connected")
	}

	rates := c.currentRates(ctx)
	if _, err := c.refresh(ctx, id, ch, rates, true); err != nil {
		log.Warn("catch-up accrual failed", zap.Error(err))
	}
	return nil
}

// Disconnect removes the connection if it is still the player's live one and
// withdraws any pending invitations involving the player. Active rooms are
// kept so a reconnecting client can rejoin them.
func (c *Coordinator) Disconnect(id identity.Identity, ch presence.Channel) {
	if !id.Authenticated() {
		return
	}
	removed, _ := c.registry.Disconnect(id.PlayerID, ch)
	if !removed {
		c.logger.Debug("stale disconnect ignored", zap.Int64("player_id", id.PlayerID))
		return
	}
	c.ticker.Reconcile()
	c.logger.Info("player disconnected", zap.Int64("player_id", id.PlayerID))

	for _, inv := range c.battles.DropPlayer(id.PlayerID) {
		counterpart := inv.TargetID
		if counterpart == id.PlayerID {
			counterpart = inv.Requester.ID
		}
		c.sendTo(counterpart, protocol.EventBattleCancelled, protocol.OpponentInfo{
			OpponentID:   id.PlayerID,
			OpponentName: id.Username,
			Reason:       "disconnected",
		})
	}
}

// Dispatch routes one inbound event from the connection ch.
//
// Postcondition: Returns the failure class of the event, if any. Error
// replies have already been pushed to ch where the event has a response.
func (c *Coordinator) Dispatch(ctx context.Context, id identity.Identity, ch presence.Channel, env protocol.Envelope) error {
	if !id.Authenticated() {
		c.logger.Debug("unauthenticated event dropped", zap.String("event", env.Type))
		return ErrUnauthenticated
	}
	switch env.Type {
	case protocol.EventSaveGame:
		return c.handleSaveGame(ctx, id, ch, env)
	case protocol.EventRequestUpdate:
		return c.handleRequestUpdate(ctx, id, ch)
	case protocol.EventGetActivePlayers:
		return c.handleGetActivePlayers(id, ch)
	case protocol.EventRequestBattle:
		return c.handleRequestBattle(id, ch, env)
	case protocol.EventAcceptBattle:
		return c.handleAcceptBattle(ctx, id, ch, env)
	case protocol.EventDeclineBattle:
		return c.handleDeclineBattle(id, env)
	case protocol.EventJoinCombat:
		return c.handleJoinCombat(id, ch, env)
	case protocol.EventCombatReady:
		return c.handleCombatReady(id, env)
	case protocol.EventEndBattle:
		return c.handleEndBattle(id, env)
	case protocol.EventCancelBattle:
		return c.handleCancelBattle(id, env)
	case protocol.EventShipMove:
		return c.handleShipMove(id, env)
	case protocol.EventShipAttack:
		return c.handleShipAttack(id, env)
	case protocol.EventShipPatrol:
		return c.handleShipPatrol(id, env)
	default:
		c.logger.Debug("unknown event", zap.String("event", env.Type), zap.Int64("player_id", id.PlayerID))
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// Run sweeps ended and abandoned rooms until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	t := time.NewTicker(c.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.Sweep()
		}
	}
}

// Sweep evicts rooms that ended longer ago than the retention window and
// active rooms whose participants have both left.
//
// Postcondition: Returns the number of rooms evicted.
func (c *Coordinator) Sweep() int {
	evicted := c.battles.Sweep(c.opts.Now(), c.opts.RoomRetention, c.opts.AbandonAfter, c.registry.IsOnline)
	for _, r := range evicted {
		c.stopReadiness(r.Key, r.SessionID)
		if err := c.broadcaster.Close(r.Key); err != nil {
			c.logger.Warn("closing room broadcast failed", zap.String("battle_room", string(r.Key)), zap.Error(err))
		}
	}
	if len(evicted) > 0 {
		c.logger.Info("rooms evicted", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

// Close stops the ticker and every pending readiness timer.
func (c *Coordinator) Close() {
	c.ticker.Stop()
	c.timersMu.Lock()
	for key, r := range c.timers {
		r.timer.Stop()
		delete(c.timers, key)
	}
	c.timersMu.Unlock()
}

// Stats returns a snapshot of coordinator state.
func (c *Coordinator) Stats() Stats {
	pending, rooms := c.battles.Counts()
	return Stats{
		Online:         c.registry.Count(),
		PendingBattles: pending,
		Rooms:          rooms,
		TickerRunning:  c.ticker.Running(),
	}
}

func (c *Coordinator) tick(ctx context.Context) {
	entries := c.registry.Snapshot()
	rates := c.currentRates(ctx)
	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.refresh(ctx, e.Identity, e.Channel, rates, false); err != nil {
			c.logger.Warn("tick refresh failed",
				zap.Int64("player_id", e.Identity.PlayerID),
				zap.Error(err),
			)
		}
	}
}

func (c *Coordinator) currentRates(ctx context.Context) accrual.Rates {
	rates, err := c.rates.Rates(ctx)
	if err == nil {
		err = rates.Validate()
	}
	if err != nil {
		c.logger.Warn("loading rates failed, using defaults", zap.Error(err))
		return accrual.DefaultRates()
	}
	return rates
}

// refresh runs one load-accrue-save cycle for the player and pushes the
// resulting document to ch as a resource_update.
func (c *Coordinator) refresh(ctx context.Context, id identity.Identity, ch presence.Channel, rates accrual.Rates, force bool) (state.Document, error) {
	unlock := c.locks.lock(id.PlayerID)
	doc, err := c.accrueLocked(ctx, id, rates, force)
	unlock()
	if err != nil {
		return state.Document{}, err
	}
	if err := c.send(ch, protocol.EventResourceUpdate, doc); err != nil {
		return doc, err
	}
	return doc, nil
}

// accrueLocked must be called with the player's lock held.
func (c *Coordinator) accrueLocked(ctx context.Context, id identity.Identity, rates accrual.Rates, force bool) (state.Document, error) {
	doc, err := c.load(ctx, id.PlayerID)
	if err != nil {
		return state.Document{}, err
	}
	updated, accrued := accrual.Accrue(doc, id.Faction, rates, c.opts.Now(), force)
	if accrued || doc.LastUpdated == nil {
		if err := c.save(ctx, id.PlayerID, updated); err != nil {
			return state.Document{}, err
		}
	}
	return updated, nil
}

func (c *Coordinator) load(ctx context.Context, playerID int64) (state.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.PersistTimeout)
	defer cancel()
	doc, err := c.store.LoadGameState(ctx, playerID)
	if err != nil {
		return state.Document{}, fmt.Errorf("%w: loading player %d: %v", ErrPersistence, playerID, err)
	}
	return doc, nil
}

func (c *Coordinator) save(ctx context.Context, playerID int64, doc state.Document) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.PersistTimeout)
	defer cancel()
	if err := c.store.SaveGameState(ctx, playerID, doc); err != nil {
		return fmt.Errorf("%w: saving player %d: %v", ErrPersistence, playerID, err)
	}
	return nil
}

func (c *Coordinator) send(ch presence.Channel, eventType string, payload any) error {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		c.logger.Error("encoding event", zap.String("event", eventType), zap.Error(err))
		return err
	}
	if err := ch.Push(data); err != nil {
		c.logger.Debug("push failed", zap.String("event", eventType), zap.String("conn_id", ch.ID()), zap.Error(err))
		return err
	}
	return nil
}

// sendTo pushes to the player's live channel if they are online.
func (c *Coordinator) sendTo(playerID int64, eventType string, payload any) bool {
	ch, ok := c.registry.ChannelFor(playerID)
	if !ok {
		return false
	}
	return c.send(ch, eventType, payload) == nil
}

func (c *Coordinator) broadcast(room battle.RoomKey, eventType string, payload any) {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		c.logger.Error("encoding event", zap.String("event", eventType), zap.Error(err))
		return
	}
	if err := c.broadcaster.Broadcast(room, data); err != nil {
		c.logger.Warn("room broadcast failed",
			zap.String("battle_room", string(room)),
			zap.String("event", eventType),
			zap.Error(err),
		)
	}
}

func isPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}
