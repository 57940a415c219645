// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MaxHistoryLimit caps how many messages join_room ever returns.
const MaxHistoryLimit = 50

// RateLimitConfig defines the parameters for per-connection event rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"           envDefault:"20"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`
}

// Config holds the relay and HTTP server settings.
type Config struct {
	Port            string          `env:"SERVER_PORT"      envDefault:":3001"`
	AllowedOrigins  []string        `env:"ALLOWED_ORIGINS"  envDefault:"http://localhost:3002,http://127.0.0.1:3002" envSeparator:","`
	MaxMessageSize  int64           `env:"MAX_MESSAGE_SIZE" envDefault:"16384"`
	RateLimit       RateLimitConfig
	DefaultRoom     string        `env:"DEFAULT_ROOM"     envDefault:"general"`
	HistoryLimit    int           `env:"HISTORY_LIMIT"    envDefault:"50"`
	CallTimeout     time.Duration `env:"CALL_TIMEOUT"     envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// DefaultConfig returns the built-in defaults without consulting the environment.
func DefaultConfig() Config {
	return Config{
		Port: ":3001",
		AllowedOrigins: []string{
			"http://localhost:3002",
			"http://127.0.0.1:3002",
		},
		MaxMessageSize: 16 << 10,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		DefaultRoom:     "general",
		HistoryLimit:    MaxHistoryLimit,
		CallTimeout:     10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// LoadConfig reads Config from the environment, falling back to defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.sanitize(), nil
}

// sanitize replaces out-of-range values with defaults.
func (cfg Config) sanitize() Config {
	defaults := DefaultConfig()

	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = defaults.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}
	cfg.DefaultRoom = strings.TrimSpace(cfg.DefaultRoom)
	if cfg.DefaultRoom == "" {
		cfg.DefaultRoom = defaults.DefaultRoom
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > MaxHistoryLimit {
		cfg.HistoryLimit = MaxHistoryLimit
	}
	if cfg.CallTimeout < 0 {
		cfg.CallTimeout = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}
