// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultAdminKey is the fallback admin secret. It is public knowledge, so
// a deployment that keeps it exposes the admin stats endpoint to anyone.
const DefaultAdminKey = "dudedude_admin_2024"

// Config holds every tunable the server reads at start-up.
type Config struct {
	Port       int    `env:"PORT" envDefault:"3000"`
	ListenAddr string `env:"LISTEN_ADDR"` // overrides Port when set, e.g. "127.0.0.1:3000"
	AdminKey   string `env:"ADMIN_KEY" envDefault:"dudedude_admin_2024"`

	WorkerPoolSize int           `env:"WORKER_POOL_SIZE" envDefault:"256"`
	MaxConnections int           `env:"MAX_CONNECTIONS" envDefault:"100000"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	OutboxSize     int           `env:"OUTBOX_SIZE" envDefault:"64"`
	MaxMessageSize int64         `env:"MAX_MESSAGE_SIZE" envDefault:"65536"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"60s"`

	GeoIPDB     string `env:"GEOIP_DB"`     // MaxMind City database; empty disables lookups
	RedisAddr   string `env:"REDIS_ADDR"`   // empty disables rate limiting
	DatabaseURL string `env:"DATABASE_URL"` // empty disables report persistence
	NATSURL     string `env:"NATS_URL"`     // empty disables report publication

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%d", cfg.Port)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.AdminKey == "":
		return fmt.Errorf("config: ADMIN_KEY must not be empty")
	case c.WorkerPoolSize <= 0:
		return fmt.Errorf("config: WORKER_POOL_SIZE must be positive, got %d", c.WorkerPoolSize)
	case c.MaxConnections <= 0:
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	case c.OutboxSize <= 0:
		return fmt.Errorf("config: OUTBOX_SIZE must be positive, got %d", c.OutboxSize)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("config: MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize)
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("config: HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	return nil
}

// InsecureAdminKey reports whether the admin key is still the built-in default.
func (c Config) InsecureAdminKey() bool {
	return c.AdminKey == DefaultAdminKey
}
