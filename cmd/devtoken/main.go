// Command devtoken mints an access token for the local backend and records the
// user's display name, so the relay can run without the hosted platform.
//
//	JWT_SECRET=dev go run ./cmd/devtoken -user 42 -email ada@example.com -username ada
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/jwtauth"
	"github.com/Tyrowin/gochat-relay/internal/logging"
	"github.com/Tyrowin/gochat-relay/internal/sqlstore"
)

var log = logging.Logger("devtoken")

// Config holds devtoken settings.
type Config struct {
	JWTSecret    string `env:"JWT_SECRET"`
	JWTIssuer    string `env:"JWT_ISSUER"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"gochat.db"`

	UserID   string
	Email    string
	Username string
	TTL      time.Duration
}

// ParseConfig loads the environment, then applies flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.UserID, "user", "", "User id placed in the token subject")
	fs.StringVar(&cfg.Email, "email", "", "Email claim")
	fs.StringVar(&cfg.Username, "username", "", "Display name; also stored as the user's profile")
	fs.DurationVar(&cfg.TTL, "ttl", 24*time.Hour, "Token lifetime")
	fs.StringVar(&cfg.DatabasePath, "database", cfg.DatabasePath, "SQLite database path of the local backend")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return Config{}, errors.New("-user is required")
	}
	if cfg.TTL <= 0 {
		return Config{}, errors.New("-ttl must be positive")
	}
	return cfg, nil
}

// Run stores the profile, when a username is given, and returns a signed token.
func Run(ctx context.Context, cfg Config) (string, error) {
	if name := strings.TrimSpace(cfg.Username); name != "" {
		store, err := sqlstore.Open(cfg.DatabasePath)
		if err != nil {
			return "", err
		}
		defer func() { _ = store.Close() }()
		if err := store.UpsertProfile(ctx, cfg.UserID, name); err != nil {
			return "", err
		}
		log.Info("profile stored", "user", cfg.UserID, "username", name, "database", cfg.DatabasePath)
	}

	return jwtauth.Sign(jwtauth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, chat.Identity{
		ID:       cfg.UserID,
		Email:    cfg.Email,
		Username: cfg.Username,
	}, cfg.TTL)
}

func main() {
	cfg, err := ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Error("invalid configuration", "err", err)
		os.Exit(2)
	}
	token, err := Run(context.Background(), cfg)
	if err != nil {
		log.Error("failed to mint token", "err", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
