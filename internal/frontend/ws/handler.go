// Package ws serves the coordinator's event protocol over websockets.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cory-johannsen/massgravity/internal/config"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/protocol"
)

// Dispatcher receives connection lifecycle and inbound events.
type Dispatcher interface {
	Connect(ctx context.Context, id identity.Identity, ch presence.Channel) error
	Disconnect(id identity.Identity, ch presence.Channel)
	Dispatch(ctx context.Context, id identity.Identity, ch presence.Channel, env protocol.Envelope) error
}

// Handler upgrades authenticated HTTP requests and runs one session per
// connection.
type Handler struct {
	cfg        config.WebsocketConfig
	dispatcher Dispatcher
	resolver   identity.Resolver
	logger     *zap.Logger
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// NewHandler creates a Handler.
//
// Precondition: dispatcher, resolver and logger must be non-nil.
func NewHandler(cfg config.WebsocketConfig, dispatcher Dispatcher, resolver identity.Resolver, logger *zap.Logger) *Handler {
	if dispatcher == nil || resolver == nil || logger == nil {
		panic("ws.NewHandler: collaborators must not be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		cfg:        cfg,
		dispatcher: dispatcher,
		resolver:   resolver,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP resolves the caller's identity, upgrades the connection and
// blocks for the life of the session.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	id, err := h.resolver.Resolve(r)
	if err != nil || !id.Authenticated() {
		h.logger.Debug("upgrade refused", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.Int64("player_id", id.PlayerID),
			zap.Error(err),
		)
		return
	}

	s := &session{
		conn:    conn,
		id:      id,
		entity:  presence.NewEntity(h.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.EventsPerSecond), h.cfg.Burst),
		cfg:     h.cfg,
		logger: h.logger.With(
			zap.Int64("player_id", id.PlayerID),
			zap.String("remote_addr", r.RemoteAddr),
		),
	}
	if !h.track(s) {
		_ = conn.Close()
		return
	}
	defer h.untrack(s)

	h.run(s)
}

func (h *Handler) run(s *session) {
	start := time.Now()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	if err := h.dispatcher.Connect(h.ctx, s.id, s.entity); err != nil {
		s.logger.Warn("connect rejected", zap.Error(err))
		_ = s.entity.Close()
		<-writerDone
		return
	}

	err := s.readPump(h.ctx, h.dispatcher)
	h.dispatcher.Disconnect(s.id, s.entity)
	_ = s.entity.Close()
	<-writerDone

	if err != nil && !isNormalClose(err) {
		s.logger.Debug("session ended", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	s.logger.Info("session ended cleanly", zap.Duration("duration", time.Since(start)))
}

func (h *Handler) track(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx.Err() != nil {
		return false
	}
	h.sessions[s] = struct{}{}
	h.wg.Add(1)
	return true
}

func (h *Handler) untrack(s *session) {
	h.mu.Lock()
	delete(h.sessions, s)
	h.mu.Unlock()
	h.wg.Done()
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown closes every open session and waits for them to finish, or for
// ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.cancel()
	for s := range h.sessions {
		_ = s.entity.Close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled)
}
