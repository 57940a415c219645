package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type profileRow struct {
	Username string `json:"username"`
}

// Verifier implements chat.Verifier against the auth user endpoint.
type Verifier struct {
	client *Client
}

// NewVerifier creates a Verifier using client.
func NewVerifier(client *Client) *Verifier {
	return &Verifier{client: client}
}

// Verify resolves token to the signed-in user and their profile name.
func (v *Verifier) Verify(ctx context.Context, token string) (chat.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Identity{}, fmt.Errorf("%w: access token is required", chat.ErrInvalidToken)
	}

	var user authUser
	if err := v.client.do(ctx, http.MethodGet, v.client.endpoint("/auth/v1/user", nil), token, nil, nil, &user); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return chat.Identity{}, fmt.Errorf("%w: %w", chat.ErrInvalidToken, err)
		}
		return chat.Identity{}, fmt.Errorf("lookup auth user: %w", err)
	}
	userID := strings.TrimSpace(user.ID)
	if userID == "" {
		return chat.Identity{}, fmt.Errorf("%w: auth user has no id", chat.ErrInvalidToken)
	}

	profileName, err := v.profileUsername(ctx, token, userID)
	if err != nil {
		log.Info("profile not found, using email", "user", userID, "err", err)
	}

	return chat.Identity{
		ID:       userID,
		Email:    user.Email,
		Username: chat.ResolveUsername(profileName, user.Email),
	}, nil
}

func (v *Verifier) profileUsername(ctx context.Context, token, userID string) (string, error) {
	query := url.Values{}
	query.Set("select", "username")
	query.Set("id", "eq."+userID)
	query.Set("limit", "1")

	var rows []profileRow
	if err := v.client.do(ctx, http.MethodGet, v.client.endpoint("/rest/v1/profiles", query), token, nil, nil, &rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", errors.New("no profile row")
	}
	return rows[0].Username, nil
}
