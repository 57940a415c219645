// Package server defines the named-event wire format exchanged with clients and
// utility helpers that are reused across connection and relay logic.
package server

import (
	"encoding/json"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

// Client to server events.
const (
	EventAuthenticate = "authenticate"
	EventJoinRoom     = "join_room"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
)

// Server to client events.
const (
	EventAuthenticated    = "authenticated"
	EventAuthError        = "auth_error"
	EventActiveUsers      = "active_users"
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventMessageHistory   = "message_history"
	EventNewMessage       = "new_message"
	EventMessageError     = "message_error"
	EventUserTyping       = "user_typing"
)

// Envelope is the frame for every event in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// AuthenticatePayload is the data of an authenticate event.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// SendMessagePayload is the data of a send_message event.
type SendMessagePayload struct {
	Content string `json:"content"`
	RoomID  string `json:"roomId"`
}

// RoomPayload is the data of typing_start and typing_stop.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// AuthenticatedPayload answers a successful authenticate.
type AuthenticatedPayload struct {
	User chat.Identity `json:"user"`
}

// ErrorPayload carries a human-readable failure reason.
type ErrorPayload struct {
	Error string `json:"error"`
}

// UserConnectedPayload announces a newly authenticated identity.
type UserConnectedPayload struct {
	User        Presence   `json:"user"`
	ActiveUsers []Presence `json:"activeUsers"`
}

// UserDisconnectedPayload announces a closed connection.
type UserDisconnectedPayload struct {
	UserID      string     `json:"userId"`
	ActiveUsers []Presence `json:"activeUsers"`
}

// UserTypingPayload is a typing indicator.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Typing   bool   `json:"typing"`
}

func encodeEvent(event string, data any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: data})
}

// decodeRoomID accepts either a bare JSON string or {"roomId": "..."}.
func decodeRoomID(raw json.RawMessage) string {
	var roomID string
	if err := json.Unmarshal(raw, &roomID); err == nil {
		return strings.TrimSpace(roomID)
	}
	var payload RoomPayload
	if err := json.Unmarshal(raw, &payload); err == nil {
		return strings.TrimSpace(payload.RoomID)
	}
	return ""
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
