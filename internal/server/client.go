// Package server manages individual chat sessions, handling identity
// resolution, read/write pumps, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
)

// MessageStore is the message buffer a session reads from and posts to.
type MessageStore interface {
	Admit(body string, author identity.Identity) chat.Message
	ListAlive() []chat.Message
	ListAliveThen(fn func([]chat.Message))
}

// IdentityResolver resolves the credential presented at connect time.
type IdentityResolver interface {
	Resolve(ctx context.Context, credential string) identity.Resolution
}

type sessionState int

const (
	stateConnecting sessionState = iota
	stateActive
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateActive:
		return "active"
	default:
		return "closed"
	}
}

// Client is one chat session. It moves Connecting -> Active -> Closed, each
// transition at most once: it becomes Active and is registered with the hub
// only after identity resolution completes, and a connection that closes
// while still Connecting is never registered.
type Client struct {
	conn            *websocket.Conn
	send            chan []byte
	hub             *Hub
	store           MessageStore
	log             *slog.Logger
	addr            string
	maxMessageSize  int64
	identityTimeout time.Duration
	rateLimiter     *rate.Limiter
	rateLimit       RateLimitConfig

	mu        sync.Mutex
	state     sessionState
	ready     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a Client in the Connecting state. conn may be nil in
// tests that only exercise the hub.
func NewClient(conn *websocket.Conn, hub *Hub, store MessageStore, log *slog.Logger, addr string, cfg Config) *Client {
	cfg = sanitizeConfig(cfg)
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:            conn,
		send:            make(chan []byte, sendBufferSize),
		hub:             hub,
		store:           store,
		log:             log.With("addr", addr),
		addr:            addr,
		maxMessageSize:  cfg.MaxMessageSize,
		identityTimeout: cfg.Identity.Timeout,
		rateLimiter:     newRateLimiter(cfg.RateLimit),
		rateLimit:       cfg.RateLimit,
		state:           stateConnecting,
		ready:           make(chan struct{}),
		closed:          make(chan struct{}),
	}
}

// GetSendChan returns the client's outgoing frame channel.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Identity returns the identity bound to this session, anonymous until the
// session is Active.
func (c *Client) Identity() identity.Identity {
	return c.hub.registry.IdentityOf(c)
}

func (c *Client) currentState() sessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// connect resolves the credential and activates the session. Resolution
// failures are logged and the session continues as anonymous.
func (c *Client) connect(resolver IdentityResolver, credential string) {
	ctx, cancel := context.WithTimeout(c.hub.ctx, c.identityTimeout)
	defer cancel()

	res := resolver.Resolve(ctx, credential)
	if res.Reason != nil {
		c.log.Warn("Identity resolution failed; continuing as anonymous", "error", res.Reason)
	}
	c.log.Debug("Session identity resolved",
		"user", res.Identity.ID, "anonymous", res.Identity.IsAnonymous(), "verified", res.Verified)
	c.activate(res.Identity)
}

// activate moves a Connecting session to Active and registers it. A session
// that closed while its identity was being resolved is left alone.
func (c *Client) activate(ident identity.Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateConnecting {
		c.log.Debug("Discarding identity for session that is no longer connecting", "state", c.state.String())
		return false
	}

	if !c.hub.registerClient(c, ident) {
		c.state = stateClosed
		close(c.closed)
		c.closeConn()
		return false
	}

	c.state = stateActive
	close(c.ready)
	if c.conn != nil {
		c.hub.track(c.writePump)
	}
	return true
}

// close moves the session to Closed. Only an Active session has a registry
// entry to remove; repeated calls are no-ops.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateClosed:
		return
	case stateActive:
		c.hub.unregisterClient(c)
	}
	c.state = stateClosed
	close(c.closed)
}

// awaitActive blocks until the session is Active, reporting false if it
// closed first.
func (c *Client) awaitActive() bool {
	select {
	case <-c.ready:
		return true
	case <-c.closed:
		return false
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError logs why the read loop is ending.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("Frame exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("Unexpected WebSocket close", "error", err)
	default:
		c.log.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit verifies if the client has exceeded the optional rate limit
// and returns true if the frame should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		c.log.Warn("Rate limit exceeded; discarding frame",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processFrame decodes one inbound frame and dispatches it. Malformed and
// unknown frames are logged and ignored.
func (c *Client) processFrame(raw []byte) bool {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.log.Warn("Invalid frame", "error", err)
		return false
	}

	switch frame.Type {
	case FrameGetMessages:
		c.fetchHistory()
	case FrameMessage:
		c.postMessage(frame.Value)
	default:
		c.log.Warn("Unknown frame type", "type", frame.Type)
		return false
	}
	return true
}

// fetchHistory replies with the alive messages. It does not mutate state.
// The reply is queued before the store can publish anything newer, so an
// expiry never reaches this client ahead of a history that still lists it.
func (c *Client) fetchHistory() {
	c.store.ListAliveThen(func(messages []chat.Message) {
		payload, err := encodeHistory(messages)
		if err != nil {
			c.log.Error("Error encoding history", "error", err)
			return
		}
		c.hub.sendTo(c, payload)
	})
}

// postMessage admits body stamped with the session's identity. The store
// publishes the resulting event to every client, this one included.
func (c *Client) postMessage(body string) chat.Message {
	msg := c.store.Admit(body, c.Identity())
	c.log.Info("Message posted", "id", msg.ID, "user", msg.Author.ID)
	return msg
}

func (c *Client) readPump() {
	defer func() {
		c.close()
		c.closeConn()
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.awaitActive() {
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	case <-c.hub.ctx.Done():
		return false
	}
}

// closeConn closes the WebSocket connection once.
func (c *Client) closeConn() {
	if c.conn == nil {
		return
	}
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("Error closing connection", "error", err)
		}
	})
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("Error writing close message", "error", err)
		}
	}
	return false
}

// writeTextMessage writes a frame plus any frames already queued, newline
// separated, in a single WebSocket message
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Warn("Error creating writer", "error", err)
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.Warn("Error writing frame", "error", err)
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeQueuedMessage(w) {
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.log.Warn("Error closing writer", "error", err)
		return false
	}
	return true
}

// writeQueuedMessage writes a single queued frame with newline separator.
// A closed send channel ends the batch.
func (c *Client) writeQueuedMessage(w io.Writer) bool {
	queued, ok := <-c.send
	if !ok {
		return false
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		c.log.Warn("Error writing newline", "error", err)
		return false
	}
	if _, err := w.Write(queued); err != nil {
		c.log.Warn("Error writing queued frame", "error", err)
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("Error writing ping message", "error", err)
		return false
	}
	return true
}
