// Package server implements the WebSocket session relay for GoChat.
//
// A Relay owns one Client per connection. Each client runs a read pump, an
// ordered event loop, and a write pump; the relay authenticates clients through
// a chat.Verifier, persists messages through a chat.Store, keeps a PresenceTable
// of authenticated identities, and fans room-scoped events out to subscribers.
//
// The files are split by concern: configuration, origin policy, rate limiting,
// the wire types, the relay and its dispatcher, and the HTTP surface.
package server

import "github.com/Tyrowin/gochat-relay/internal/logging"

var log = logging.Logger("server")
