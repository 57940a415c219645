package server

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

const (
	authFailedReason  = "Authentication failed"
	invalidTokenError = "Invalid token"
	sendFailedReason  = "Failed to send message"
)

// dispatch routes one inbound event. It runs on the client's event loop, so a
// connection's events are handled strictly in arrival order.
func (r *Relay) dispatch(c *Client, env Envelope) {
	switch env.Event {
	case EventAuthenticate, EventJoinRoom, EventSendMessage, EventTypingStart, EventTypingStop:
		r.metrics.events.WithLabelValues(env.Event).Inc()
	default:
		c.log.Debug("ignoring unknown event", "event", env.Event)
		return
	}

	if env.Event == EventAuthenticate {
		r.handleAuthenticate(c, env.Data)
		return
	}

	// Everything else is inert until the connection is authenticated.
	if !c.authenticated() {
		c.log.Debug("ignoring event on unauthenticated connection", "event", env.Event)
		return
	}

	switch env.Event {
	case EventJoinRoom:
		r.handleJoinRoom(c, env.Data)
	case EventSendMessage:
		r.handleSendMessage(c, env.Data)
	case EventTypingStart:
		r.handleTyping(c, env.Data, true)
	case EventTypingStop:
		r.handleTyping(c, env.Data, false)
	}
}

// callContext bounds a Verifier or Store call by the configured timeout. The
// context also ends when the connection closes.
func (r *Relay) callContext(c *Client) (context.Context, context.CancelFunc) {
	if r.cfg.CallTimeout > 0 {
		return context.WithTimeout(c.ctx, r.cfg.CallTimeout)
	}
	return context.WithCancel(c.ctx)
}

func presenceFor(identity chat.Identity, connID string) Presence {
	return Presence{
		ID:       identity.ID,
		Username: identity.Username,
		Email:    identity.Email,
		ConnID:   connID,
	}
}

func (r *Relay) handleAuthenticate(c *Client, data json.RawMessage) {
	if c.authenticated() {
		c.log.Debug("ignoring authenticate on authenticated connection")
		return
	}

	var payload AuthenticatePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			c.log.Debug("malformed authenticate payload", "err", err)
		}
	}
	token := strings.TrimSpace(payload.Token)
	if token == "" {
		c.emit(EventAuthError, ErrorPayload{Error: invalidTokenError})
		return
	}

	ctx, cancel := r.callContext(c)
	identity, err := r.verifier.Verify(ctx, token)
	cancel()
	if c.ctx.Err() != nil {
		return
	}
	if err != nil {
		reason := authFailedReason
		if errors.Is(err, chat.ErrInvalidToken) {
			reason = invalidTokenError
		}
		c.log.Info("authentication failed", "err", err)
		c.emit(EventAuthError, ErrorPayload{Error: reason})
		return
	}
	if identity.Username == "" {
		identity.Username = chat.ResolveUsername("", identity.Email)
	}

	if !c.bind(identity, token) {
		return
	}

	entry := presenceFor(identity, c.id)
	r.presence.Insert(entry)
	r.join(c, r.cfg.DefaultRoom)
	c.log.Info("client authenticated", "user", identity.ID, "username", identity.Username)

	active := r.presence.All()
	c.emit(EventAuthenticated, AuthenticatedPayload{User: identity})
	c.emit(EventActiveUsers, active)
	r.broadcast(r.cfg.DefaultRoom, EventUserConnected, UserConnectedPayload{
		User:        entry,
		ActiveUsers: active,
	}, c)
}

func (r *Relay) handleJoinRoom(c *Client, data json.RawMessage) {
	roomID := decodeRoomID(data)
	if roomID == "" {
		c.log.Debug("ignoring join_room without room id")
		return
	}
	r.join(c, roomID)

	ctx, cancel := r.callContext(c)
	messages, err := r.store.Recent(ctx, c.credential(), roomID, r.cfg.HistoryLimit)
	cancel()
	if c.ctx.Err() != nil {
		return
	}
	if err != nil {
		r.metrics.storeErrors.WithLabelValues("read").Inc()
		c.log.Error("failed to load message history", "room", roomID, "err", err)
		messages = nil
	}

	c.emit(EventMessageHistory, orderHistory(messages, r.cfg.HistoryLimit))
}

// orderHistory sorts messages oldest first and keeps at most the newest limit.
// The result is never nil so it encodes as an empty array.
func orderHistory(messages []chat.Message, limit int) []chat.Message {
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r *Relay) handleSendMessage(c *Client, data json.RawMessage) {
	var payload SendMessagePayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			c.log.Debug("malformed send_message payload", "err", err)
			return
		}
	}

	identity, _ := c.Identity()
	roomID := strings.TrimSpace(payload.RoomID)
	if roomID == "" {
		roomID = r.cfg.DefaultRoom
	}

	ctx, cancel := r.callContext(c)
	msg, err := r.store.Insert(ctx, c.credential(), chat.NewMessage{
		Content: strings.TrimSpace(payload.Content),
		UserID:  identity.ID,
		RoomID:  roomID,
	})
	cancel()
	if c.ctx.Err() != nil {
		return
	}
	if err != nil {
		r.metrics.storeErrors.WithLabelValues("write").Inc()
		c.log.Error("failed to save message", "room", roomID, "err", err)
		c.emit(EventMessageError, ErrorPayload{Error: chat.PublicReason(err, sendFailedReason)})
		return
	}

	msg.User = chat.Author{ID: identity.ID, Username: identity.Username}
	r.broadcast(roomID, EventNewMessage, msg, nil)
}

func (r *Relay) handleTyping(c *Client, data json.RawMessage, typing bool) {
	roomID := decodeRoomID(data)
	if roomID == "" {
		roomID = r.cfg.DefaultRoom
	}
	identity, _ := c.Identity()
	r.broadcast(roomID, EventUserTyping, UserTypingPayload{
		UserID:   identity.ID,
		Username: identity.Username,
		Typing:   typing,
	}, c)
}
