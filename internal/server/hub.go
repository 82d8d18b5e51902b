// Package server coordinates client registration, event fan-out, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/identity"
)

type registration struct {
	client   *Client
	identity identity.Identity
	ack      chan struct{}
}

type directMessage struct {
	client  *Client
	payload []byte
}

// Hub owns the connection registry and fans message lifecycle events out to
// every registered client. All writes to the registry and to client send
// channels happen on the Run goroutine, so per-client delivery order matches
// the order in which events reach the hub.
type Hub struct {
	log        *slog.Logger
	registry   *Registry
	broadcast  chan []byte
	direct     chan directMessage
	register   chan registration
	unregister chan *Client
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates and initializes a new Hub. Run must be started before
// clients connect.
func NewHub(log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		log:        log,
		registry:   NewRegistry(),
		broadcast:  make(chan []byte),
		direct:     make(chan directMessage),
		register:   make(chan registration),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Publish implements chat.Publisher: the event is delivered to every client
// registered when the hub processes it. Events published after shutdown are
// dropped.
func (h *Hub) Publish(evt chat.Event) {
	payload, err := encodeEvent(evt)
	if err != nil {
		h.log.Error("Dropping unencodable event", "kind", evt.Kind.String(), "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	case <-h.ctx.Done():
	}
}

// registerClient hands client to the hub loop and waits until the registry
// entry exists. It returns false once the hub is shutting down.
func (h *Hub) registerClient(client *Client, ident identity.Identity) bool {
	reg := registration{client: client, identity: ident, ack: make(chan struct{})}
	select {
	case h.register <- reg:
	case <-h.ctx.Done():
		return false
	}
	<-reg.ack
	return true
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// sendTo queues payload for a single registered client.
func (h *Hub) sendTo(client *Client, payload []byte) {
	select {
	case h.direct <- directMessage{client: client, payload: payload}:
	case <-h.ctx.Done():
	}
}

// track runs f on a goroutine that Shutdown waits for.
func (h *Hub) track(f func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		f()
	}()
}

func (h *Hub) stopped() bool {
	return h.ctx.Err() != nil
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and event delivery. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case reg := <-h.register:
			h.registry.Register(reg.client, reg.identity)
			close(reg.ack)
			h.log.Info("Client registered",
				"addr", reg.client.addr, "user", reg.identity.ID, "total", h.registry.Len())

		case client := <-h.unregister:
			if h.registry.Unregister(client) {
				close(client.send)
				h.log.Info("Client unregistered", "addr", client.addr, "total", h.registry.Len())
			}

		case payload := <-h.broadcast:
			h.handleBroadcast(payload)

		case msg := <-h.direct:
			if h.registry.Contains(msg.client) && !h.deliver(msg.client, msg.payload) {
				h.removeFailedClients([]*Client{msg.client})
			}
		}
	}
}

// handleBroadcast sends payload to a snapshot of all registered clients.
func (h *Hub) handleBroadcast(payload []byte) {
	clients := h.registry.Handles()
	h.log.Debug("Broadcasting event", "clients", len(clients))

	var failed []*Client
	for _, client := range clients {
		if !h.deliver(client, payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// deliver queues payload on one client without blocking. A failure is
// contained to that client.
func (h *Hub) deliver(client *Client, payload []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic delivering to client", "addr", client.addr, "panic", r)
			ok = false
		}
	}()

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedClients drops clients whose send buffer is full. Closing the
// send channel makes the write pump close the socket, which in turn ends the
// session.
func (h *Hub) removeFailedClients(clients []*Client) {
	for _, client := range clients {
		if h.registry.Unregister(client) {
			close(client.send)
			h.log.Warn("Client removed due to full send buffer", "addr", client.addr)
		}
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	clients := h.registry.Handles()
	for _, client := range clients {
		client.closeConn()
	}

	h.log.Info("Closed client connections", "count", len(clients))
}

// Shutdown stops the hub and waits for client goroutines to finish, or for
// timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
