package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/gochat-relay/internal/server"
)

// Backend names accepted by BACKEND.
const (
	BackendSupabase = "supabase"
	BackendLocal    = "local"
)

// Config holds the relay settings plus the backend that verifies tokens and
// stores messages.
type Config struct {
	Server server.Config

	Backend string `env:"BACKEND" envDefault:"supabase"`

	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`

	JWTSecret    string `env:"JWT_SECRET"`
	JWTIssuer    string `env:"JWT_ISSUER"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"gochat.db"`
}

// ParseConfig loads the environment, then lets flags override it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "HTTP listen address")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Credential and message backend: supabase or local")
	fs.StringVar(&cfg.DatabasePath, "database", cfg.DatabasePath, "SQLite database path for the local backend")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the selected backend is fully configured.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendSupabase:
		var errs []error
		if strings.TrimSpace(c.SupabaseURL) == "" {
			errs = append(errs, errors.New("SUPABASE_URL is required"))
		}
		if strings.TrimSpace(c.SupabaseAnonKey) == "" {
			errs = append(errs, errors.New("SUPABASE_ANON_KEY is required"))
		}
		return errors.Join(errs...)
	case BackendLocal:
		var errs []error
		if strings.TrimSpace(c.JWTSecret) == "" {
			errs = append(errs, errors.New("JWT_SECRET is required"))
		}
		if strings.TrimSpace(c.DatabasePath) == "" {
			errs = append(errs, errors.New("DATABASE_PATH is required"))
		}
		return errors.Join(errs...)
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
}
