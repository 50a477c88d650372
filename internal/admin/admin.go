// Package admin exposes the standard gRPC health service, reporting the
// coordinator and its dependencies.
package admin

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/cory-johannsen/massgravity/internal/config"
)

// Check probes one dependency. A nil return means healthy.
type Check func(ctx context.Context) error

// Server serves grpc.health.v1 and refreshes each registered check on an
// interval. The overall ("") status is SERVING only while every check passes.
type Server struct {
	cfg      config.AdminConfig
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	grpc   *grpc.Server
	health *health.Server

	mu     sync.Mutex
	checks map[string]Check
	quit   chan struct{}
	once   sync.Once
}

// NewServer creates a Server.
//
// Precondition: interval and timeout must be > 0; logger must be non-nil.
func NewServer(cfg config.AdminConfig, interval, timeout time.Duration, logger *zap.Logger) *Server {
	if interval <= 0 || timeout <= 0 {
		panic("admin.NewServer: interval and timeout must be > 0")
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		cfg:      cfg,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		grpc:     gs,
		health:   hs,
		checks:   make(map[string]Check),
		quit:     make(chan struct{}),
	}
}

// AddCheck registers a named dependency check.
//
// Precondition: name must be non-empty and check non-nil.
func (s *Server) AddCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
	s.health.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Refresh runs every check once and publishes the results.
//
// Postcondition: Returns the names of failing checks in sorted order.
func (s *Server) Refresh(ctx context.Context) []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]Check, len(s.checks))
	for name, c := range s.checks {
		names = append(names, name)
		checks[name] = c
	}
	s.mu.Unlock()
	sort.Strings(names)

	var failing []string
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := checks[name](cctx)
		cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			failing = append(failing, name)
			s.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if len(failing) > 0 {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	return failing
}

// Serve serves on lis and refreshes checks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("admin gRPC server listening", zap.String("addr", lis.Addr().String()))
	go s.poll()
	return s.grpc.Serve(lis)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.once.Do(func() {
		close(s.quit)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}

func (s *Server) poll() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.quit
		cancel()
	}()

	s.Refresh(ctx)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
			s.Refresh(ctx)
		}
	}
}
