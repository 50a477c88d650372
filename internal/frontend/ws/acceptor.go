package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/config"
)

// Acceptor serves the websocket Handler on the configured address.
type Acceptor struct {
	cfg         config.WebsocketConfig
	handler     *Handler
	logger      *zap.Logger
	stopTimeout time.Duration

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	ready    chan struct{}
}

// NewAcceptor creates an Acceptor routing cfg.Path to handler.
//
// Precondition: handler and logger must be non-nil; stopTimeout must be > 0.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebsocketConfig, handler *Handler, stopTimeout time.Duration, logger *zap.Logger) *Acceptor {
	if stopTimeout <= 0 {
		panic("ws.NewAcceptor: stopTimeout must be > 0")
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &Acceptor{
		cfg:         cfg,
		handler:     handler,
		logger:      logger,
		stopTimeout: stopTimeout,
		srv:         &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ready:       make(chan struct{}),
	}
}

// ListenAndServe listens on the configured address and serves until Stop.
//
// Postcondition: Returns nil after Stop, or the listen/serve error.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()
	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	a.listener = listener
	close(a.ready)
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	if err := a.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving websocket: %w", err)
	}
	return nil
}

// Addr blocks until the listener is bound and returns its address.
func (a *Acceptor) Addr() net.Addr {
	<-a.ready
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listener.Addr()
}

// Start implements server.Service.
func (a *Acceptor) Start() error { return a.ListenAndServe() }

// Stop refuses new upgrades, closes open sessions and shuts the HTTP server down.
//
// Postcondition: All sessions have ended or the stop timeout elapsed.
func (a *Acceptor) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), a.stopTimeout)
	defer cancel()

	if err := a.handler.Shutdown(ctx); err != nil {
		a.logger.Warn("sessions did not close in time", zap.Error(err))
	}
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	a.logger.Info("websocket acceptor stopped")
}
