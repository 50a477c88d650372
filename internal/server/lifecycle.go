// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start begins the service. It blocks until the service is stopped
	// or an error occurs.
	Start() error
	// Stop gracefully stops the service and unblocks Start.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// RunnerService adapts a context-driven loop into a Service. Start runs fn
// until Stop cancels its context; a context.Canceled return is treated as a
// clean exit.
type RunnerService struct {
	fn     func(ctx context.Context) error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunnerService wraps fn.
//
// Precondition: fn must be non-nil.
func NewRunnerService(fn func(ctx context.Context) error) *RunnerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunnerService{fn: fn, ctx: ctx, cancel: cancel}
}

// Start blocks in fn until Stop is called or fn fails.
func (r *RunnerService) Start() error {
	err := r.fn(r.ctx)
	if err != nil && r.ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop cancels the loop context.
func (r *RunnerService) Stop() { r.cancel() }

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order.
type Lifecycle struct {
	logger          *zap.Logger
	shutdownTimeout time.Duration
	services        []namedService
	mu              sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager.
//
// Precondition: logger must be non-nil; shutdownTimeout must be > 0.
func NewLifecycle(logger *zap.Logger, shutdownTimeout time.Duration) *Lifecycle {
	if shutdownTimeout <= 0 {
		panic("server.NewLifecycle: shutdownTimeout must be > 0")
	}
	return &Lifecycle{
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Add registers a named service for lifecycle management.
// Services are started in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until a termination signal is received
// (SIGINT or SIGTERM), ctx is cancelled, or any service fails. Services are
// then stopped in reverse order.
//
// Postcondition: All services are stopped when this method returns. The
// returned error is the first service failure, or nil on a clean shutdown.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	sigCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	g, gctx := errgroup.WithContext(sigCtx)
	for _, ns := range services {
		ns := ns
		g.Go(func() error {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				return fmt.Errorf("service %s: %w", ns.name, err)
			}
			return nil
		})
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	<-gctx.Done()
	if sigCtx.Err() != nil && ctx.Err() == nil {
		l.logger.Info("received signal, shutting down")
	} else {
		l.logger.Info("shutting down", zap.NamedError("cause", context.Cause(gctx)))
	}

	l.shutdown(services)

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(l.shutdownTimeout):
		err = fmt.Errorf("services did not exit within %s", l.shutdownTimeout)
	}

	l.logger.Info("shutdown complete",
		zap.Duration("total_uptime", time.Since(start)),
		zap.Error(err),
	)
	return err
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}
