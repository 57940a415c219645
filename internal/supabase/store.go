package supabase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

const messageColumns = "id,content,user_id,room_id,created_at"

type messageRow struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	UserID    string      `json:"user_id"`
	RoomID    string      `json:"room_id"`
	CreatedAt time.Time   `json:"created_at"`
	Profiles  *profileRow `json:"profiles"`
}

type insertRow struct {
	Content string `json:"content"`
	UserID  string `json:"user_id"`
	RoomID  string `json:"room_id"`
}

// Store implements chat.Store on the messages and profiles tables.
type Store struct {
	client *Client
}

// NewStore creates a Store using client.
func NewStore(client *Client) *Store {
	return &Store{client: client}
}

// Insert writes msg with the caller's credential and returns the stored row.
func (s *Store) Insert(ctx context.Context, cred chat.Credential, msg chat.NewMessage) (chat.Message, error) {
	query := url.Values{}
	query.Set("select", messageColumns)

	var rows []messageRow
	err := s.client.do(ctx, http.MethodPost, s.client.endpoint("/rest/v1/messages", query), cred.Token,
		insertRow{Content: msg.Content, UserID: msg.UserID, RoomID: msg.RoomID},
		map[string]string{"Prefer": "return=representation"},
		&rows)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrStoreWrite, &chat.PublicError{Reason: apiErr.Message, Err: apiErr})
		}
		return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrStoreWrite, err)
	}
	if len(rows) == 0 {
		return chat.Message{}, fmt.Errorf("%w: insert returned no rows", chat.ErrStoreWrite)
	}
	return rows[0].toMessage(), nil
}

// Recent fetches the newest limit messages in roomID and returns them oldest first.
func (s *Store) Recent(ctx context.Context, cred chat.Credential, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	query := url.Values{}
	query.Set("select", messageColumns+",profiles(username)")
	query.Set("room_id", "eq."+roomID)
	query.Set("order", "created_at.desc")
	query.Set("limit", strconv.Itoa(limit))

	var rows []messageRow
	if err := s.client.do(ctx, http.MethodGet, s.client.endpoint("/rest/v1/messages", query), cred.Token, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("%w: query room %q: %w", chat.ErrStoreRead, roomID, err)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	messages := make([]chat.Message, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = row.toMessage()
	}
	return messages, nil
}

func (r messageRow) toMessage() chat.Message {
	username := chat.DefaultUsername
	if r.Profiles != nil && strings.TrimSpace(r.Profiles.Username) != "" {
		username = r.Profiles.Username
	}
	return chat.Message{
		ID:        r.ID,
		Content:   r.Content,
		UserID:    r.UserID,
		RoomID:    r.RoomID,
		CreatedAt: r.CreatedAt,
		User: chat.Author{
			ID:       r.UserID,
			Username: username,
		},
	}
}
