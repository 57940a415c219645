package jwtauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

type stubProfiles struct {
	names map[string]string
	err   error
}

func (s stubProfiles) Username(_ context.Context, userID string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.names[userID], nil
}

var testConfig = Config{Secret: "test-secret", Issuer: "gochat-test"}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{}, nil)
	require.Error(t, err)
}

func TestVerifyValidToken(t *testing.T) {
	v, err := NewVerifier(testConfig, nil)
	require.NoError(t, err)

	token, err := Sign(testConfig, chat.Identity{ID: "u1", Email: "ada@example.com"}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "ada", id.Username)
}

func TestVerifyUsesMetadataThenProfile(t *testing.T) {
	token, err := Sign(testConfig, chat.Identity{ID: "u1", Email: "ada@example.com", Username: "Ada"}, time.Minute)
	require.NoError(t, err)

	v, _ := NewVerifier(testConfig, nil)
	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Ada", id.Username)

	v, _ = NewVerifier(testConfig, stubProfiles{names: map[string]string{"u1": "Countess"}})
	id, err = v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "Countess", id.Username)
}

func TestVerifyProfileErrorFallsBack(t *testing.T) {
	token, err := Sign(testConfig, chat.Identity{ID: "u1", Email: "ada@example.com"}, time.Minute)
	require.NoError(t, err)

	v, _ := NewVerifier(testConfig, stubProfiles{err: errors.New("db down")})
	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ada", id.Username)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v, _ := NewVerifier(testConfig, nil)

	expired, err := Sign(testConfig, chat.Identity{ID: "u1"}, -time.Minute)
	require.NoError(t, err)
	wrongSecret, err := Sign(Config{Secret: "other", Issuer: testConfig.Issuer}, chat.Identity{ID: "u1"}, time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := Sign(Config{Secret: testConfig.Secret, Issuer: "someone-else"}, chat.Identity{ID: "u1"}, time.Minute)
	require.NoError(t, err)
	noSubject, err := Sign(testConfig, chat.Identity{}, time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong secret": wrongSecret,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"alg none":     none,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			require.Error(t, err)
			assert.ErrorIs(t, err, chat.ErrInvalidToken)
		})
	}
}
