// Package server wires the chat session engine to an HTTP/WebSocket surface.
package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Server serves chat connections. The hub, store and resolver are owned by
// the caller and shared by every connection.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	store    MessageStore
	resolver IdentityResolver
	upgrader websocket.Upgrader
}

// NewServer creates a Server. A nil cfg uses defaults.
func NewServer(cfg *Config, log *slog.Logger, hub *Hub, store MessageStore, resolver IdentityResolver) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	sanitized := sanitizeConfig(*cfg)
	origins := newOriginPolicy(log, sanitized.AllowedOrigins)

	return &Server{
		cfg:      sanitized,
		log:      log,
		hub:      hub,
		store:    store,
		resolver: resolver,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

// credentialFrom returns the credential presented with the upgrade request:
// the "token" query parameter, or else the Authorization header.
func credentialFrom(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("Authorization"))
}
