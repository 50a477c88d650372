// Package config provides Viper-based configuration loading for the coordinator.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds process-level settings.
type ServerConfig struct {
	// Name identifies this instance in logs.
	Name string `mapstructure:"name"`
	// ShutdownTimeout bounds how long services get to stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// WebsocketConfig holds the client-facing websocket listener settings.
type WebsocketConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Path is the HTTP path upgraded to a websocket.
	Path string `mapstructure:"path"`
	// ReadTimeout is how long a connection may stay silent, pongs included.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingPeriod is the keepalive ping interval; must be below ReadTimeout.
	PingPeriod time.Duration `mapstructure:"ping_period"`
	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64 `mapstructure:"max_message_size"`
	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int `mapstructure:"send_buffer"`
	// EventsPerSecond and Burst rate-limit inbound events per connection.
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebsocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// CoordinatorConfig holds timing for the real-time coordinator.
type CoordinatorConfig struct {
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	ReadinessTimeout time.Duration `mapstructure:"readiness_timeout"`
	RoomRetention    time.Duration `mapstructure:"room_retention"`
	AbandonAfter     time.Duration `mapstructure:"abandon_after"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
}

// StorageConfig selects the game-state backend.
type StorageConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `mapstructure:"backend"`
}

// IdentityConfig selects how connections are authenticated.
type IdentityConfig struct {
	// Mode is "basic" (HTTP Basic against accounts) or "header" (trusted upstream headers).
	Mode string `mapstructure:"mode"`
}

// SettingsConfig selects where production rates are read from.
type SettingsConfig struct {
	// Source is "file" or "postgres".
	Source string `mapstructure:"source"`
	// File is the YAML rates file used when Source is "file".
	File string `mapstructure:"file"`
}

// MessagingConfig selects the combat room fan-out backend.
type MessagingConfig struct {
	// Backend is "local" or "nats".
	Backend string `mapstructure:"backend"`
	// Host and Port bind the embedded NATS server.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// AdminConfig holds the gRPC health endpoint settings.
type AdminConfig struct {
	GRPCHost string `mapstructure:"grpc_host"`
	GRPCPort int    `mapstructure:"grpc_port"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (a AdminConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.GRPCHost, a.GRPCPort)
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Websocket   WebsocketConfig   `mapstructure:"websocket"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Identity    IdentityConfig    `mapstructure:"identity"`
	Settings    SettingsConfig    `mapstructure:"settings"`
	Messaging   MessagingConfig   `mapstructure:"messaging"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// NeedsDatabase reports whether any configured component reads PostgreSQL.
func (c Config) NeedsDatabase() bool {
	return c.Storage.Backend == "postgres" || c.Settings.Source == "postgres"
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	validators := []func() error{
		func() error { return validateServer(c.Server) },
		func() error { return validateWebsocket(c.Websocket) },
		func() error { return validateLogging(c.Logging) },
		func() error { return validateCoordinator(c.Coordinator) },
		func() error { return validateBackends(c) },
		func() error { return validateAdmin(c.Admin) },
	}
	if c.NeedsDatabase() {
		validators = append(validators, func() error { return validateDatabase(c.Database) })
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateServer(s ServerConfig) error {
	if s.Name == "" {
		return errors.New("server.name must not be empty")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0, got %s", s.ShutdownTimeout)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWebsocket(w WebsocketConfig) error {
	var errs []string
	if w.Port < 1 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 1-65535, got %d", w.Port))
	}
	if !strings.HasPrefix(w.Path, "/") {
		errs = append(errs, fmt.Sprintf("websocket.path must start with /, got %q", w.Path))
	}
	if w.ReadTimeout <= 0 {
		errs = append(errs, "websocket.read_timeout must be > 0")
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be > 0")
	}
	if w.PingPeriod <= 0 || w.PingPeriod >= w.ReadTimeout {
		errs = append(errs, "websocket.ping_period must be > 0 and below websocket.read_timeout")
	}
	if w.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_size must be >= 1, got %d", w.MaxMessageSize))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if w.EventsPerSecond <= 0 {
		errs = append(errs, "websocket.events_per_second must be > 0")
	}
	if w.Burst < 1 {
		errs = append(errs, fmt.Sprintf("websocket.burst must be >= 1, got %d", w.Burst))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateCoordinator(c CoordinatorConfig) error {
	var errs []string
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"coordinator.tick_interval", c.TickInterval},
		{"coordinator.readiness_timeout", c.ReadinessTimeout},
		{"coordinator.room_retention", c.RoomRetention},
		{"coordinator.abandon_after", c.AbandonAfter},
		{"coordinator.sweep_interval", c.SweepInterval},
		{"coordinator.persist_timeout", c.PersistTimeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be > 0, got %s", d.name, d.d))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBackends(c Config) error {
	var errs []string
	if c.Storage.Backend != "postgres" && c.Storage.Backend != "memory" {
		errs = append(errs, fmt.Sprintf("storage.backend must be one of [postgres, memory], got %q", c.Storage.Backend))
	}
	if c.Identity.Mode != "basic" && c.Identity.Mode != "header" {
		errs = append(errs, fmt.Sprintf("identity.mode must be one of [basic, header], got %q", c.Identity.Mode))
	}
	switch c.Settings.Source {
	case "file":
		if c.Settings.File == "" {
			errs = append(errs, "settings.file must not be empty when settings.source is file")
		}
	case "postgres":
	default:
		errs = append(errs, fmt.Sprintf("settings.source must be one of [file, postgres], got %q", c.Settings.Source))
	}
	switch c.Messaging.Backend {
	case "local":
	case "nats":
		if c.Messaging.Port < -1 || c.Messaging.Port > 65535 {
			errs = append(errs, fmt.Sprintf("messaging.port must be -1-65535, got %d", c.Messaging.Port))
		}
	default:
		errs = append(errs, fmt.Sprintf("messaging.backend must be one of [local, nats], got %q", c.Messaging.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if a.GRPCHost == "" {
		errs = append(errs, "admin.grpc_host must not be empty")
	}
	if a.GRPCPort < 1 || a.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("admin.grpc_port must be 1-65535, got %d", a.GRPCPort))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := NewViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// NewViper returns a Viper instance with defaults and MASSGRAVITY_ environment
// overrides applied, ready for a config file or direct Set calls.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MASSGRAVITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "massgravity")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "massgravity")
	v.SetDefault("database.password", "massgravity")
	v.SetDefault("database.name", "massgravity")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 5000)
	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.read_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.max_message_size", 64*1024)
	v.SetDefault("websocket.send_buffer", 64)
	v.SetDefault("websocket.events_per_second", 30)
	v.SetDefault("websocket.burst", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("coordinator.tick_interval", "5s")
	v.SetDefault("coordinator.readiness_timeout", "10s")
	v.SetDefault("coordinator.room_retention", "5m")
	v.SetDefault("coordinator.abandon_after", "30m")
	v.SetDefault("coordinator.sweep_interval", "1m")
	v.SetDefault("coordinator.persist_timeout", "5s")

	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("identity.mode", "basic")
	v.SetDefault("settings.source", "postgres")
	v.SetDefault("settings.file", "configs/settings.yaml")

	v.SetDefault("messaging.backend", "local")
	v.SetDefault("messaging.host", "127.0.0.1")
	v.SetDefault("messaging.port", 4222)

	v.SetDefault("admin.grpc_host", "127.0.0.1")
	v.SetDefault("admin.grpc_port", 50051)
}
