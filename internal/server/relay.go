// Package server coordinates connection registration, room subscriptions,
// presence, and room-scoped fan-out via the Relay type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/logging"
)

// ErrRelayClosed is returned when connections arrive after Shutdown.
var ErrRelayClosed = errors.New("relay is shut down")

// Relay bridges WebSocket connections to the credential verifier and message
// store, and fans room-scoped events out to subscribed connections.
type Relay struct {
	cfg      Config
	verifier chat.Verifier
	store    chat.Store
	presence *PresenceTable
	metrics  *Metrics
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	closed  bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRelay creates a Relay. presence may be nil, in which case an empty table
// is created.
func NewRelay(cfg Config, verifier chat.Verifier, store chat.Store, presence *PresenceTable) *Relay {
	cfg = cfg.sanitize()
	if presence == nil {
		presence = NewPresenceTable()
	}
	ctx, cancel := context.WithCancel(context.Background())
	log := logging.Logger("relay")

	r := &Relay{
		cfg:      cfg,
		verifier: verifier,
		store:    store,
		presence: presence,
		metrics:  newMetrics(presence),
		log:      log,
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     newOriginPolicy(cfg.AllowedOrigins, log).checkOrigin,
	}
	return r
}

// SetLogger replaces the relay's logger. Call it before serving.
func (r *Relay) SetLogger(log *slog.Logger) {
	r.log = log
}

// Presence returns the relay's presence table.
func (r *Relay) Presence() *PresenceTable { return r.presence }

// Metrics returns the relay's collectors.
func (r *Relay) Metrics() *Metrics { return r.metrics }

// Config returns the sanitized configuration in use.
func (r *Relay) Config() Config { return r.cfg }

// ServeWS upgrades the request and starts the connection's goroutines.
func (r *Relay) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "err", err)
		return
	}

	client := newClient(r, conn, req.RemoteAddr)
	if err := r.register(client); err != nil {
		client.cancel()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go func() {
		defer r.wg.Done()
		client.writePump()
	}()
	go func() {
		defer r.wg.Done()
		client.readPump()
	}()
	go func() {
		defer r.wg.Done()
		client.eventLoop()
	}()
}

func (r *Relay) register(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRelayClosed
	}
	r.clients[c] = struct{}{}
	r.wg.Add(3)
	r.metrics.connections.Inc()
	c.log.Info("client connected", "clients", len(r.clients))
	return nil
}

// unregister runs once per client, on its event loop, after the last event has
// been handled. It is the disconnect handler.
func (r *Relay) unregister(c *Client) {
	if !c.markClosed() {
		return
	}
	c.cancel()

	r.mu.Lock()
	delete(r.clients, c)
	c.mu.Lock()
	for room := range c.rooms {
		r.leaveLocked(c, room)
	}
	c.mu.Unlock()
	remaining := len(r.clients)
	r.mu.Unlock()
	r.metrics.connections.Dec()

	identity, ok := c.Identity()
	if !ok {
		c.log.Info("client disconnected", "clients", remaining)
		return
	}

	if r.presence.RemoveIfOwner(identity.ID, c.id) {
		if other := r.otherClientFor(identity.ID); other != nil {
			r.presence.Insert(presenceFor(identity, other.id))
		}
	}
	c.log.Info("client disconnected", "user", identity.ID, "clients", remaining)

	r.broadcast(r.cfg.DefaultRoom, EventUserDisconnected, UserDisconnectedPayload{
		UserID:      identity.ID,
		ActiveUsers: r.presence.All(),
	}, nil)
}

// otherClientFor finds another open, authenticated client of userID.
func (r *Relay) otherClientFor(userID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		if id, ok := c.Identity(); ok && id.ID == userID {
			return c
		}
	}
	return nil
}

func (r *Relay) join(c *Client, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

// leaveLocked drops c from room. r.mu and c.mu must be held.
func (r *Relay) leaveLocked(c *Client, room string) {
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// roomSnapshot returns the current subscribers of room.
func (r *Relay) roomSnapshot(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	clients := make([]*Client, 0, len(members))
	for c := range members {
		clients = append(clients, c)
	}
	return clients
}

// broadcast sends event to every subscriber of room except exclude. Clients
// whose send buffer is full are disconnected.
func (r *Relay) broadcast(room, event string, data any, exclude *Client) {
	frame, err := encodeEvent(event, data)
	if err != nil {
		r.log.Error("failed to encode broadcast", "event", event, "err", err)
		return
	}

	var failed []*Client
	for _, c := range r.roomSnapshot(room) {
		if c == exclude {
			continue
		}
		if !c.enqueue(frame) {
			failed = append(failed, c)
		}
	}

	for _, c := range failed {
		c.log.Warn("removing client with full send buffer", "event", event)
		c.abort()
	}
}

// ClientCount returns the number of open connections.
func (r *Relay) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Shutdown closes every connection and waits for their goroutines, or until
// ctx ends.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.log.Info("initiating relay shutdown")

	r.mu.Lock()
	r.closed = true
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	r.cancel()
	for _, c := range clients {
		c.abort()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("relay shutdown completed", "closed", len(clients))
		return nil
	case <-ctx.Done():
		r.log.Warn("relay shutdown timed out, some goroutines may still be running")
		return ctx.Err()
	}
}
