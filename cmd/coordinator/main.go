// Package main runs the Mass Gravity real-time coordinator. It wires
// configuration, storage, identity, settings, room fan-out, the websocket
// acceptor and the admin health server into one lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/admin"
	"github.com/cory-johannsen/massgravity/internal/config"
	"github.com/cory-johannsen/massgravity/internal/coordinator"
	"github.com/cory-johannsen/massgravity/internal/frontend/ws"
	"github.com/cory-johannsen/massgravity/internal/game/presence"
	"github.com/cory-johannsen/massgravity/internal/game/state"
	"github.com/cory-johannsen/massgravity/internal/identity"
	"github.com/cory-johannsen/massgravity/internal/messaging"
	"github.com/cory-johannsen/massgravity/internal/observability"
	"github.com/cory-johannsen/massgravity/internal/server"
	"github.com/cory-johannsen/massgravity/internal/settings"
	"github.com/cory-johannsen/massgravity/internal/storage/memory"
	"github.com/cory-johannsen/massgravity/internal/storage/postgres"
)

type devAccounts []string

func (d *devAccounts) String() string     { return strings.Join(*d, ",") }
func (d *devAccounts) Set(v string) error { *d = append(*d, v); return nil }

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	var accounts devAccounts
	flag.Var(&accounts, "dev-account", "username:password:faction registered in the memory store (repeatable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting Mass Gravity coordinator",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("identity", cfg.Identity.Mode),
		zap.String("settings", cfg.Settings.Source),
		zap.String("messaging", cfg.Messaging.Backend),
	)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger, cfg.Server.ShutdownTimeout)
	healthSrv := admin.NewServer(cfg.Admin, 15*time.Second, 5*time.Second, logger.Named("admin"))

	var pool *postgres.Pool
	if cfg.NeedsDatabase() {
		dbStart := time.Now()
		pool, err = postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		if err := pool.VerifySchema(ctx); err != nil {
			logger.Fatal("database not migrated; run cmd/migrate", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		healthSrv.AddCheck("database", func(ctx context.Context) error {
			return pool.Health(ctx, 5*time.Second)
		})
		stopped := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error { <-stopped; return nil },
			StopFn: func() {
				pool.Close()
				close(stopped)
			},
		})
	}

	var (
		store         coordinator.GameStateStore
		authenticator identity.Authenticator
	)
	switch cfg.Storage.Backend {
	case "postgres":
		store = postgres.NewGameStateRepository(pool.DB())
		authenticator = postgres.NewAccountRepository(pool.DB())
	case "memory":
		mem := memory.NewStore()
		if err := registerDevAccounts(mem, accounts); err != nil {
			logger.Fatal("registering dev accounts", zap.Error(err))
		}
		store, authenticator = mem, mem
		logger.Warn("using in-memory storage; game state is lost on restart",
			zap.Int("dev_accounts", len(accounts)),
		)
	}

	var resolver identity.Resolver
	switch cfg.Identity.Mode {
	case "basic":
		resolver = identity.NewBasicAuthResolver(authenticator)
	case "header":
		resolver = identity.HeaderResolver{}
	}

	var rates coordinator.RatesProvider
	switch cfg.Settings.Source {
	case "postgres":
		rates = postgres.NewSettingsRepository(pool.DB())
	case "file":
		fp, err := settings.NewFileProvider(cfg.Settings.File, logger.Named("settings"))
		if err != nil {
			logger.Fatal("loading settings", zap.String("path", cfg.Settings.File), zap.Error(err))
		}
		rates = fp
	}

	registry := presence.NewRegistry()
	var broadcaster coordinator.Broadcaster
	switch cfg.Messaging.Backend {
	case "local":
		broadcaster = coordinator.NewLocalBroadcaster(registry.ChannelFor, logger.Named("broadcast"))
	case "nats":
		natsSrv, err := messaging.NewServer(logger.Named("nats"),
			messaging.WithHost(cfg.Messaging.Host),
			messaging.WithPort(cfg.Messaging.Port),
		)
		if err != nil {
			logger.Fatal("starting nats", zap.Error(err))
		}
		lifecycle.Add("nats", natsSrv)
		healthSrv.AddCheck("nats", func(context.Context) error {
			if !natsSrv.Conn().IsConnected() {
				return fmt.Errorf("nats connection %s", natsSrv.Conn().Status())
			}
			return nil
		})
		broadcaster = messaging.NewBroadcaster(natsSrv.Conn(), registry.ChannelFor, logger.Named("broadcast"))
	}

	coord := coordinator.New(registry, store, rates, broadcaster, coordinator.Options{
		TickInterval:     cfg.Coordinator.TickInterval,
		ReadinessTimeout: cfg.Coordinator.ReadinessTimeout,
		RoomRetention:    cfg.Coordinator.RoomRetention,
		AbandonAfter:     cfg.Coordinator.AbandonAfter,
		SweepInterval:    cfg.Coordinator.SweepInterval,
		PersistTimeout:   cfg.Coordinator.PersistTimeout,
	}, logger.Named("coordinator"))
	healthSrv.AddCheck("coordinator", func(context.Context) error {
		stats := coord.Stats()
		logger.Debug("coordinator stats",
			zap.Int("online", stats.Online),
			zap.Int("pending_battles", stats.PendingBattles),
			zap.Int("rooms", stats.Rooms),
			zap.Bool("ticker_running", stats.TickerRunning),
		)
		return nil
	})

	sweeper := server.NewRunnerService(coord.Run)
	lifecycle.Add("coordinator", &server.FuncService{
		StartFn: sweeper.Start,
		StopFn: func() {
			sweeper.Stop()
			coord.Close()
		},
	})

	handler := ws.NewHandler(cfg.Websocket, coord, resolver, logger.Named("ws"))
	lifecycle.Add("websocket", ws.NewAcceptor(cfg.Websocket, handler, cfg.Server.ShutdownTimeout, logger.Named("ws")))
	lifecycle.Add("admin", healthSrv)

	logger.Info("coordinator initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("websocket_addr", cfg.Websocket.Addr()),
		zap.String("admin_addr", cfg.Admin.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// registerDevAccounts parses username:password:faction entries into mem.
func registerDevAccounts(mem *memory.Store, entries []string) error {
	for _, entry := range entries {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("dev account %q: want username:password:faction", entry)
		}
		faction, err := state.ParseFaction(parts[2])
		if err != nil {
			return fmt.Errorf("dev account %q: %w", entry, err)
		}
		if _, err := mem.Register(parts[0], parts[1], faction); err != nil {
			return fmt.Errorf("dev account %q: %w", parts[0], err)
		}
	}
	return nil
}
