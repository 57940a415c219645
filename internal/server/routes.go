package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// the status document, a liveness probe, the WebSocket endpoint, and metrics.
func SetupRoutes(relay *Relay) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", StatusHandler(relay))
	mux.HandleFunc("GET /healthz", HealthHandler)
	mux.HandleFunc("/ws", WebSocketHandler(relay))
	mux.Handle("GET /metrics", relay.Metrics().Handler())
	return mux
}
