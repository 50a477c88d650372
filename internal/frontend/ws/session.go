package ws

import (
	"context"
	"errors"
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

// session binds one websocket connection to a presence entity.
// Only writePump writes data frames; control frames go through writeMu too.
type session struct {
	conn    *websocket.Conn
	id      identity.Identity
	entity  *presence.Entity
	limiter *rate.Limiter
	cfg     config.WebsocketConfig
	logger  *zap.Logger

	writeMu sync.Mutex
}

// readPump decodes inbound frames and hands them to d until the connection
// fails or ctx is cancelled.
func (s *session) readPump(ctx context.Context, d Dispatcher) error {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		if !s.limiter.Allow() {
			s.logger.Debug("inbound event rate limited")
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.Debug("discarding malformed frame", zap.Error(err))
			continue
		}
		if err := d.Dispatch(ctx, s.id, s.entity, env); err != nil {
			s.logger.Debug("event not applied", zap.String("event", env.Type), zap.Error(err))
		}
	}
}

// writePump drains the entity queue to the socket and keeps the connection
// alive with pings. It returns once the queue is closed or a write fails, and
// always closes the socket so readPump unblocks.
func (s *session) writePump() {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case data, ok := <-s.entity.Events():
			if !ok {
				s.closeWith(websocket.CloseNormalClosure, "")
				return
			}
			if err := s.write(websocket.TextMessage, data); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *session) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// closeWith sends a close frame ahead of the socket being closed.
func (s *session) closeWith(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("close frame failed", zap.Error(err))
	}
}
