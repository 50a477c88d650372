// Package messaging fans combat room events out over an embedded NATS server.
package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Server is an embedded NATS server with an internal client connection.
type Server struct {
	ns     *server.Server
	conn   *nats.Conn
	logger *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// ServerOpt customises a Server.
type ServerOpt func(*serverOptions)

type serverOptions struct {
	host           string
	port           int
	startupTimeout time.Duration
}

// WithHost sets the interface the server binds.
func WithHost(host string) ServerOpt {
	return func(o *serverOptions) { o.host = host }
}

// WithPort sets the listen port; -1 picks a random free port.
func WithPort(port int) ServerOpt {
	return func(o *serverOptions) { o.port = port }
}

// WithStartupTimeout bounds how long NewServer waits for readiness.
func WithStartupTimeout(d time.Duration) ServerOpt {
	return func(o *serverOptions) { o.startupTimeout = d }
}

// NewServer starts the embedded server and connects to it.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a ready Server with a live connection, or a non-nil error.
func NewServer(logger *zap.Logger, opts ...ServerOpt) (*Server, error) {
	o := serverOptions{host: "127.0.0.1", port: -1, startupTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	ns, err := server.NewServer(&server.Options{
		Host:   o.host,
		Port:   o.port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(o.startupTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready for connections within %s", o.startupTimeout)
	}

	conn, err := nats.Connect(ns.ClientURL(), nats.Name("massgravity-coordinator"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connecting to nats server: %w", err)
	}

	logger.Info("nats server listening", zap.String("url", ns.ClientURL()))
	return &Server{ns: ns, conn: conn, logger: logger, done: make(chan struct{})}, nil
}

// Conn returns the internal client connection.
func (s *Server) Conn() *nats.Conn {
	return s.conn
}

// ClientURL returns the URL clients connect to.
func (s *Server) ClientURL() string {
	return s.ns.ClientURL()
}

// Start blocks until Stop is called.
func (s *Server) Start() error {
	<-s.done
	return nil
}

// Stop flushes pending publishes and shuts the server down. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if err := s.conn.FlushTimeout(time.Second); err != nil {
			s.logger.Warn("flushing nats connection", zap.Error(err))
		}
		s.conn.Close()
		s.ns.Shutdown()
		s.ns.WaitForShutdown()
		close(s.done)
	})
}
