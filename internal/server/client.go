// Package server manages individual WebSocket connections: read/write pumps, the
// ordered per-connection event loop, rate limiting, and lifecycle control.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
	inboundBuffer  = 64
)

// Client is one WebSocket connection. It starts Unauthenticated, may become
// Authenticated once, and ends Closed when the transport goes away.
type Client struct {
	id      string
	conn    *websocket.Conn
	relay   *Relay
	addr    string
	log     *slog.Logger
	limiter *rateLimiter

	send    chan []byte
	inbound chan Envelope

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	identity *chat.Identity
	token    string
	rooms    map[string]struct{}
}

func newClient(relay *Relay, conn *websocket.Conn, addr string) *Client {
	ctx, cancel := context.WithCancel(relay.ctx)
	id := uuid.NewString()
	if conn != nil {
		conn.SetReadLimit(relay.cfg.MaxMessageSize)
	}
	return &Client{
		id:      id,
		conn:    conn,
		relay:   relay,
		addr:    addr,
		log:     relay.log.With("conn", id, "remote", addr),
		limiter: newRateLimiter(relay.cfg.RateLimit),
		send:    make(chan []byte, sendBufferSize),
		inbound: make(chan Envelope, inboundBuffer),
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]struct{}),
	}
}

// ID returns the connection id reported as socketId in presence entries.
func (c *Client) ID() string { return c.id }

// Identity returns the bound identity, if authenticated.
func (c *Client) Identity() (chat.Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return chat.Identity{}, false
	}
	return *c.identity, true
}

func (c *Client) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity != nil
}

func (c *Client) credential() chat.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred := chat.Credential{Token: c.token}
	if c.identity != nil {
		cred.UserID = c.identity.ID
	}
	return cred
}

// bind moves the client to Authenticated. It fails once the client is closed
// or already bound.
func (c *Client) bind(identity chat.Identity, token string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.identity != nil {
		return false
	}
	c.identity = &identity
	c.token = token
	return true
}

// enqueue hands a frame to the write pump without blocking.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) emit(event string, data any) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		c.log.Error("failed to encode event", "event", event, "err", err)
		return
	}
	if !c.enqueue(frame) {
		c.log.Warn("dropping event for closed or slow connection", "event", event)
	}
}

// markClosed moves the client to Closed and releases the write pump. It
// reports false when the client was already closed.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// abort tears the transport down; the pumps then finish normal cleanup.
func (c *Client) abort() {
	c.cancel()
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error closing connection", "err", err)
		}
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("error setting read deadline in pong handler", "err", err)
		}
		return nil
	})
}

// logReadError records why the read loop stopped.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "limit", c.relay.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.log.Debug("client disconnected", "err", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", "err", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", "err", err)
	default:
		c.log.Debug("websocket read ended", "err", err)
	}
}

// readPump decodes frames and queues them for the event loop in arrival order.
func (c *Client) readPump() {
	defer func() {
		close(c.inbound)
		c.abort()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.allow() {
			c.relay.metrics.dropped.Inc()
			c.log.Warn("rate limit exceeded; discarding event",
				"burst", c.relay.cfg.RateLimit.Burst, "interval", c.relay.cfg.RateLimit.RefillInterval)
			continue
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.log.Debug("ignoring malformed frame", "err", err)
			continue
		}

		select {
		case c.inbound <- env:
		case <-c.ctx.Done():
			return
		}
	}
}

// eventLoop handles queued events one at a time, then runs disconnect cleanup.
func (c *Client) eventLoop() {
	defer c.relay.unregister(c)

	for {
		select {
		case <-c.ctx.Done():
			return
		case env, ok := <-c.inbound:
			if !ok {
				return
			}
			c.relay.dispatch(c, env)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.abort()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.handleMessage(message, ok) {
				return
			}
		case <-ticker.C:
			if !c.handlePing() {
				return
			}
		}
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline", "err", err)
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error writing close message", "err", err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("error writing message", "err", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("error setting write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("error writing ping", "err", err)
		return false
	}
	return true
}
