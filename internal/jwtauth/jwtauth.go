// Package jwtauth verifies HS256 access tokens locally, using the same claim
// layout the hosted platform issues (sub, email, user_metadata.username).
package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/logging"
)

var log = logging.Logger("jwtauth")

// ProfileResolver looks up a display name for a user id. It returns an empty
// name when no profile exists.
type ProfileResolver interface {
	Username(ctx context.Context, userID string) (string, error)
}

// Config holds verification settings.
type Config struct {
	Secret string
	// Issuer is checked when non-empty.
	Issuer string
}

// Claims is the token payload.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	Role         string       `json:"role,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// UserMetadata carries profile hints embedded in the token.
type UserMetadata struct {
	Username string `json:"username,omitempty"`
}

// Verifier implements chat.Verifier for HS256 tokens.
type Verifier struct {
	config   Config
	profiles ProfileResolver
}

// NewVerifier creates a Verifier. profiles may be nil.
func NewVerifier(config Config, profiles ProfileResolver) (*Verifier, error) {
	if strings.TrimSpace(config.Secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{config: config, profiles: profiles}, nil
}

// Verify validates token and resolves the caller's identity.
func (v *Verifier) Verify(ctx context.Context, token string) (chat.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Identity{}, fmt.Errorf("%w: access token is required", chat.ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(v.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.Identity{}, fmt.Errorf("%w: token has expired", chat.ErrInvalidToken)
		}
		return chat.Identity{}, fmt.Errorf("%w: %v", chat.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return chat.Identity{}, chat.ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return chat.Identity{}, fmt.Errorf("%w: token has no subject", chat.ErrInvalidToken)
	}

	profileName := claims.UserMetadata.Username
	if v.profiles != nil {
		name, err := v.profiles.Username(ctx, userID)
		if err != nil {
			log.Warn("profile lookup failed, using token claims", "user", userID, "err", err)
		} else if strings.TrimSpace(name) != "" {
			profileName = name
		}
	}

	return chat.Identity{
		ID:       userID,
		Email:    claims.Email,
		Username: chat.ResolveUsername(profileName, claims.Email),
	}, nil
}

// Sign issues a token for identity valid for ttl. It backs local development
// tooling and tests.
func Sign(config Config, identity chat.Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(config.Secret) == "" {
		return "", errors.New("jwt secret is required")
	}
	now := time.Now()
	claims := Claims{
		Email: identity.Email,
		Role:  "authenticated",
		UserMetadata: UserMetadata{
			Username: identity.Username,
		},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    config.Issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(config.Secret))
}
