// Package server wires HTTP handlers into a ServeMux for the chat relay
// via routing helpers.
package server

import "net/http"

// Routes returns an HTTP ServeMux with the health check, WebSocket endpoint,
// and test page.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/test", s.TestPageHandler)
	return mux
}
