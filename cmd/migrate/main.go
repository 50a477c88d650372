// Package main applies the accounts and game_settings migrations.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"github.com/cory-johannsen/massgravity/internal/config"
	"github.com/cory-johannsen/massgravity/internal/observability"
	"github.com/cory-johannsen/massgravity/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	source := flag.String("source", "file://migrations", "migration source URL")
	direction := flag.String("direction", "up", "migration direction: up or down")
	steps := flag.Int("steps", 0, "number of steps (0 = all)")
	flag.Parse()

	// Only the database and logging sections matter here; the rest may target
	// other backends.
	v := config.NewViper()
	v.SetConfigFile(*configPath)
	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("reading config: %v", err)
	}
	var (
		dbCfg  config.DatabaseConfig
		logCfg config.LoggingConfig
	)
	if err := v.UnmarshalKey("database", &dbCfg); err != nil {
		log.Fatalf("parsing database config: %v", err)
	}
	if err := v.UnmarshalKey("logging", &logCfg); err != nil {
		log.Fatalf("parsing logging config: %v", err)
	}
	logger, err := observability.NewLogger(logCfg, "migrate")
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	m, err := migrate.New(*source, dbCfg.DSN())
	if err != nil {
		logger.Fatal("creating migrator", zap.String("source", *source), zap.Error(err))
	}
	defer m.Close()

	if err := run(m, *direction, *steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Fatal("migration failed", zap.String("direction", *direction), zap.Error(err))
	} else if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no changes")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Fatal("reading schema version", zap.Error(err))
	}
	logger.Info("migrations complete",
		zap.String("direction", *direction),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
		zap.Duration("elapsed", time.Since(start)),
	)
	if dirty || version != postgres.SchemaVersion {
		logger.Warn("schema does not match this build; the coordinator may refuse to start",
			zap.Uint("expected_version", postgres.SchemaVersion),
		)
	}
}

func run(m *migrate.Migrate, direction string, steps int) error {
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	default:
		return fmt.Errorf("invalid direction %q: must be 'up' or 'down'", direction)
	}
}
