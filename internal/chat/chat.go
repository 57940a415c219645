// Package chat defines the identities, messages, and external collaborators the
// relay depends on: a credential verifier and a message store.
//
// Both collaborators are owned by a hosted platform in production. The relay only
// calls them, so the interfaces here stay narrow and every call carries the
// credential it is authorized by.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultUsername is shown when an author's display name cannot be resolved.
const DefaultUsername = "Anonymous"

var (
	// ErrInvalidToken is returned by a Verifier when the token is missing, malformed,
	// expired, or rejected by the identity provider.
	ErrInvalidToken = errors.New("invalid token")
	// ErrStoreRead wraps failures to query message history.
	ErrStoreRead = errors.New("message store read failed")
	// ErrStoreWrite wraps failures to persist a message.
	ErrStoreWrite = errors.New("message store write failed")
)

// Identity is the verified user behind one connection.
type Identity struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// Credential scopes a store call to the caller that issued it.
type Credential struct {
	Token  string
	UserID string
}

// Author is the display form of a message author.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Message is a stored chat message enriched with its author.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id"`
	RoomID    string    `json:"room_id"`
	CreatedAt time.Time `json:"created_at"`
	User      Author    `json:"user"`
}

// NewMessage is an insert request.
type NewMessage struct {
	Content string
	UserID  string
	RoomID  string
}

// Verifier resolves an opaque bearer token to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Store persists and queries chat messages scoped by room.
type Store interface {
	// Insert stores msg and returns the stored record.
	Insert(ctx context.Context, cred Credential, msg NewMessage) (Message, error)
	// Recent returns at most limit of the newest messages in roomID ordered
	// oldest to newest.
	Recent(ctx context.Context, cred Credential, roomID string, limit int) ([]Message, error)
}

// UsernameFromEmail returns the local part of email, or DefaultUsername.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	if local == "" {
		return DefaultUsername
	}
	return local
}

// ResolveUsername picks the first non-empty display name among the profile name
// and the email local part.
func ResolveUsername(profileName, email string) string {
	if name := strings.TrimSpace(profileName); name != "" {
		return name
	}
	return UsernameFromEmail(email)
}

// PublicError carries a reason that may be shown to the requesting client.
type PublicError struct {
	Reason string
	Err    error
}

func (e *PublicError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *PublicError) Unwrap() error { return e.Err }

// PublicReason returns the client-safe reason carried by err, or fallback.
func PublicReason(err error, fallback string) string {
	var public *PublicError
	if errors.As(err, &public) && strings.TrimSpace(public.Reason) != "" {
		return public.Reason
	}
	return fallback
}
