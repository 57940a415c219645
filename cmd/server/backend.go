package main

import (
	"fmt"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/jwtauth"
	"github.com/Tyrowin/gochat-relay/internal/sqlstore"
	"github.com/Tyrowin/gochat-relay/internal/supabase"
)

type backend struct {
	verifier chat.Verifier
	store    chat.Store
	close    func() error
}

func openBackend(cfg Config) (*backend, error) {
	switch cfg.Backend {
	case BackendSupabase:
		client, err := supabase.NewClient(supabase.Config{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			verifier: supabase.NewVerifier(client),
			store:    supabase.NewStore(client),
			close:    func() error { return nil },
		}, nil

	case BackendLocal:
		store, err := sqlstore.Open(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		verifier, err := jwtauth.NewVerifier(jwtauth.Config{
			Secret: cfg.JWTSecret,
			Issuer: cfg.JWTIssuer,
		}, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		return &backend{verifier: verifier, store: store, close: store.Close}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
