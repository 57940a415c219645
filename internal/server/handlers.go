package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StatusResponse is the body of GET /.
type StatusResponse struct {
	Message     string `json:"message"`
	ActiveUsers int    `json:"activeUsers"`
}

// StatusHandler reports that the relay is up and how many identities are present.
func StatusHandler(relay *Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(StatusResponse{
			Message:     "Chat server running",
			ActiveUsers: relay.Presence().Len(),
		})
		if err != nil {
			relay.log.Warn("error writing status response", "err", err)
		}
	}
}

// HealthHandler provides a plain liveness probe.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "GoChat server is running!")
}

// WebSocketHandler validates the method and hands the request to the relay,
// which upgrades it and starts the connection's pumps.
func WebSocketHandler(relay *Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}
		relay.ServeWS(w, r)
	}
}
