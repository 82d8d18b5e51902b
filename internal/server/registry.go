package server

import (
	"sync"

	"github.com/Tyrowin/gochat-relay/internal/identity"
)

// Registry tracks the active connections and the identity bound to each.
// Writes come from the hub loop; reads may come from any goroutine.
type Registry struct {
	mu      sync.RWMutex
	entries map[*Client]identity.Identity
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[*Client]identity.Identity)}
}

// Register binds ident to client.
func (r *Registry) Register(client *Client, ident identity.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[client] = ident
}

// Unregister removes client and reports whether it was present. Unknown
// handles are a no-op.
func (r *Registry) Unregister(client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[client]; !ok {
		return false
	}
	delete(r.entries, client)
	return true
}

// Contains reports whether client is registered.
func (r *Registry) Contains(client *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[client]
	return ok
}

// IdentityOf returns the identity bound to client, or the anonymous identity
// for unknown handles.
func (r *Registry) IdentityOf(client *Client) identity.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ident, ok := r.entries[client]; ok {
		return ident
	}
	return identity.Anonymous
}

// Handles returns a snapshot of the registered clients.
func (r *Registry) Handles() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.entries))
	for client := range r.entries {
		clients = append(clients, client)
	}
	return clients
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
