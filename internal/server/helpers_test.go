package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const testOrigin = "http://localhost:8080"

func testLogger() *slog.Logger {
	return logs.GetLoggerFromLevel(slog.LevelDebug)
}

// staticResolver resolves every connection to the same result.
type staticResolver struct {
	res identity.Resolution
}

func (s staticResolver) Resolve(context.Context, string) identity.Resolution {
	return s.res
}

var anonymousResolver = staticResolver{res: identity.Resolution{Identity: identity.Anonymous}}

// blockingResolver holds every resolution until release is closed.
type blockingResolver struct {
	enteredOnce sync.Once
	entered     chan struct{}
	release     chan struct{}
	result      identity.Identity
}

func newBlockingResolver(result identity.Identity) *blockingResolver {
	return &blockingResolver{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		result:  result,
	}
}

func (b *blockingResolver) Resolve(context.Context, string) identity.Resolution {
	b.enteredOnce.Do(func() { close(b.entered) })
	<-b.release
	return identity.Resolution{Identity: b.result, Verified: true}
}

type testEnv struct {
	hub   *Hub
	store *chat.Store
	ts    *httptest.Server
	wsURL string
}

func newTestEnv(t *testing.T, resolver IdentityResolver, window time.Duration) *testEnv {
	t.Helper()
	log := testLogger()

	hub := NewHub(log)
	go hub.Run()

	store := chat.NewStore(log, hub, window)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = store.Run(ctx) }()

	cfg := &Config{AllowedOrigins: []string{testOrigin}}
	srv := NewServer(cfg, log, hub, store, resolver)
	ts := httptest.NewServer(srv.Routes())

	t.Cleanup(func() {
		cancel()
		_ = hub.Shutdown(2 * time.Second)
		ts.Close()
	})

	return &testEnv{
		hub:   hub,
		store: store,
		ts:    ts,
		wsURL: buildWebSocketURL(t, ts.URL),
	}
}

func buildWebSocketURL(t *testing.T, serverURL string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// wireFrame is the union of every outbound frame shape.
type wireFrame struct {
	Type     string           `json:"type"`
	Message  *MessagePayload  `json:"message"`
	Messages []MessagePayload `json:"messages"`
	ID       string           `json:"id"`
}

// testConn wraps a client connection and splits batched WebSocket messages
// into frames.
type testConn struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []wireFrame
}

func dial(t *testing.T, wsURL, credential string) *testConn {
	t.Helper()
	conn, err := dialRaw(wsURL, credential, testOrigin)
	require.NoError(t, err)
	tc := &testConn{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	return tc
}

func dialRaw(wsURL, credential, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", origin)
	if credential != "" {
		wsURL += "?token=" + url.QueryEscape(credential)
	}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *testConn) send(frame InboundFrame) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(frame))
}

func (c *testConn) post(value string) {
	c.send(InboundFrame{Type: FrameMessage, Value: value})
}

func (c *testConn) next(timeout time.Duration) (wireFrame, error) {
	if len(c.pending) > 0 {
		frame := c.pending[0]
		c.pending = c.pending[1:]
		return frame, nil
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return wireFrame{}, err
	}
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return wireFrame{}, err
	}
	for _, part := range bytes.Split(raw, []byte("\n")) {
		if len(part) == 0 {
			continue
		}
		var frame wireFrame
		if err := json.Unmarshal(part, &frame); err != nil {
			return wireFrame{}, err
		}
		c.pending = append(c.pending, frame)
	}
	return c.next(timeout)
}

// expect returns the next frame, which must have type typ.
func (c *testConn) expect(typ string) wireFrame {
	c.t.Helper()
	frame, err := c.next(2 * time.Second)
	require.NoError(c.t, err)
	require.Equal(c.t, typ, frame.Type)
	return frame
}

// history requests and returns the alive messages. A reply also proves the
// session is Active.
func (c *testConn) history() []MessagePayload {
	c.t.Helper()
	c.send(InboundFrame{Type: FrameGetMessages})
	return c.expect(FrameMessages).Messages
}

func (c *testConn) expectNone(timeout time.Duration) {
	c.t.Helper()
	frame, err := c.next(timeout)
	require.Error(c.t, err, "unexpected frame %+v", frame)
	require.True(c.t, strings.Contains(err.Error(), "timeout"), "unexpected error: %v", err)
}
