package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var hmacSecret = []byte("integration_secret_long_enough_for_hs256")

type profileDirectory struct {
	profile identity.Profile
}

func (d profileDirectory) Profile(context.Context, string) (identity.Profile, error) {
	return d.profile, nil
}

func newJWTResolver(t *testing.T) *identity.Resolver {
	t.Helper()
	verifier, err := identity.NewHMACVerifier(hmacSecret)
	require.NoError(t, err)
	directory := profileDirectory{profile: identity.Profile{ID: "00u1", FirstName: "Ada", LastName: "Lovelace"}}
	return identity.NewResolver(testLogger(), verifier, directory, "")
}

func bearerToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "00u1",
		Audience:  jwt.ClaimStrings{identity.DefaultAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(hmacSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestSession_BothClientsReceivePostedMessage(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, anonymousResolver, time.Minute)

	a := dial(t, env.wsURL, "")
	b := dial(t, env.wsURL, "")
	req.Empty(a.history())
	req.Empty(b.history())

	a.post("hello")

	gotA := a.expect(FrameMessage).Message
	gotB := b.expect(FrameMessage).Message
	req.NotNil(gotA)
	req.NotNil(gotB)
	req.Equal(gotA.ID, gotB.ID)
	req.Equal("hello", gotA.Value)
	req.Equal("hello", gotB.Value)
	req.Equal(identity.Anonymous, gotA.User)
	req.NotZero(gotA.Time)

	a.expectNone(150 * time.Millisecond)
	b.expectNone(150 * time.Millisecond)
}

func TestSession_HistoryReplaysAliveMessagesInOrder(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, anonymousResolver, time.Minute)

	a := dial(t, env.wsURL, "")
	req.Empty(a.history())
	a.post("first")
	a.post("second")
	first := a.expect(FrameMessage).Message
	second := a.expect(FrameMessage).Message

	late := dial(t, env.wsURL, "")
	history := late.history()
	req.Len(history, 2)
	req.Equal(first.ID, history[0].ID)
	req.Equal(second.ID, history[1].ID)

	// Fetching history is repeatable and does not mutate anything.
	req.Equal(history, late.history())
	req.Equal(2, env.store.Len())
}

func TestSession_VerifiedIdentityStampsMessages(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, newJWTResolver(t), time.Minute)

	a := dial(t, env.wsURL, bearerToken(t))
	req.Empty(a.history())
	a.post("signed in")

	msg := a.expect(FrameMessage).Message
	req.Equal(identity.Identity{ID: "00u1", Name: "Ada Lovelace"}, msg.User)
}

func TestSession_AuthorizationHeaderCredential(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, newJWTResolver(t), time.Minute)

	headers := http.Header{}
	headers.Set("Origin", testOrigin)
	headers.Set("Authorization", bearerToken(t))
	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	req.NoError(err)
	tc := &testConn{t: t, conn: conn}
	defer conn.Close()

	req.Empty(tc.history())
	tc.post("header auth")
	req.Equal("00u1", tc.expect(FrameMessage).Message.User.ID)
}

func TestSession_BadBearerDegradesToAnonymous(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, newJWTResolver(t), time.Minute)

	for _, credential := range []string{"Bearer badtoken", "Basic abc", "garbage"} {
		c := dial(t, env.wsURL, credential)
		req.Empty(c.history(), "session with %q must be active", credential)
		c.post("still here")
		msg := c.expect(FrameMessage).Message
		req.Equal(identity.Anonymous, msg.User)
		req.Equal(identity.Anonymous, identityOfOnlyClient(t, env.hub))
		_ = c.conn.Close()
		req.Eventually(func() bool { return env.hub.Registry().Len() == 0 }, time.Second, 10*time.Millisecond)
	}
}

func identityOfOnlyClient(t *testing.T, hub *Hub) identity.Identity {
	t.Helper()
	handles := hub.Registry().Handles()
	require.Len(t, handles, 1)
	return hub.Registry().IdentityOf(handles[0])
}

func TestSession_ExpiredMessageIsRemovedAndAnnounced(t *testing.T) {
	req := require.New(t)
	window := 150 * time.Millisecond
	env := newTestEnv(t, anonymousResolver, window)

	a := dial(t, env.wsURL, "")
	b := dial(t, env.wsURL, "")
	req.Empty(a.history())
	req.Empty(b.history())

	a.post("short lived")
	added := a.expect(FrameMessage).Message
	req.Equal(added.ID, b.expect(FrameMessage).Message.ID)

	req.Equal(added.ID, a.expect(FrameDeleteMessage).ID)
	req.Equal(added.ID, b.expect(FrameDeleteMessage).ID)
	req.Empty(a.history())

	a.expectNone(2 * window)
}

func TestSession_DisconnectUnregisters(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, anonymousResolver, time.Minute)

	a := dial(t, env.wsURL, "")
	b := dial(t, env.wsURL, "")
	req.Empty(a.history())
	req.Empty(b.history())
	req.Equal(2, env.hub.Registry().Len())

	req.NoError(a.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = a.conn.Close()
	req.Eventually(func() bool { return env.hub.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)

	// The remaining client keeps working and messages outlive their author.
	b.post("after disconnect")
	req.Equal("after disconnect", b.expect(FrameMessage).Message.Value)
	req.Len(b.history(), 1)
}

func TestSession_CloseDuringIdentityResolution(t *testing.T) {
	req := require.New(t)
	resolver := newBlockingResolver(identity.Identity{ID: "late", Name: "Late"})
	env := newTestEnv(t, resolver, time.Minute)

	c := dial(t, env.wsURL, "Bearer whatever")
	select {
	case <-resolver.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("identity resolution never started")
	}

	_ = c.conn.Close()
	// Give the server time to observe the disconnect before resolution ends.
	time.Sleep(100 * time.Millisecond)
	close(resolver.release)

	req.Never(func() bool { return env.hub.Registry().Len() > 0 }, 200*time.Millisecond, 10*time.Millisecond)
}

func TestSession_FramesWaitForActivation(t *testing.T) {
	req := require.New(t)
	resolver := newBlockingResolver(identity.Identity{ID: "00u9", Name: "Grace"})
	env := newTestEnv(t, resolver, time.Minute)

	c := dial(t, env.wsURL, "Bearer whatever")
	<-resolver.entered
	c.post("queued while connecting")
	time.Sleep(50 * time.Millisecond)
	req.Zero(env.store.Len())

	close(resolver.release)
	msg := c.expect(FrameMessage).Message
	req.Equal("queued while connecting", msg.Value)
	req.Equal(identity.Identity{ID: "00u9", Name: "Grace"}, msg.User)
}

func TestSession_InvalidFramesAreIgnored(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, anonymousResolver, time.Minute)

	c := dial(t, env.wsURL, "")
	req.NoError(c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	c.send(InboundFrame{Type: "typing"})

	req.Empty(c.history())
	req.Equal(1, env.hub.Registry().Len())
}

func TestSession_OversizedFrameClosesConnection(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, anonymousResolver, time.Minute)

	c := dial(t, env.wsURL, "")
	req.Empty(c.history())

	big := make([]byte, defaultMaxMessageSize+1)
	for i := range big {
		big[i] = 'x'
	}
	req.NoError(c.conn.WriteMessage(websocket.TextMessage, big))
	req.Eventually(func() bool { return env.hub.Registry().Len() == 0 }, time.Second, 10*time.Millisecond)
	req.Zero(env.store.Len())
}

func TestHubShutdownClosesSessions(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, anonymousResolver, time.Minute)

	c := dial(t, env.wsURL, "")
	req.Empty(c.history())

	req.NoError(env.hub.Shutdown(2 * time.Second))
	_, err := c.next(2 * time.Second)
	req.Error(err)

	// Posting after shutdown does not block.
	done := make(chan struct{})
	go func() {
		env.store.Admit("late", identity.Anonymous)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Admit blocked after hub shutdown")
	}
}

func TestWebSocketHandler_RejectsNonGet(t *testing.T) {
	env := newTestEnv(t, anonymousResolver, time.Minute)

	resp, err := http.Post(env.ts.URL+"/ws", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketHandler_RejectsDisallowedOrigin(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, anonymousResolver, time.Minute)

	for _, origin := range []string{"http://evil.example", ""} {
		conn, err := dialRaw(env.wsURL, "", origin)
		req.Error(err, "origin %q must be rejected", origin)
		if conn != nil {
			_ = conn.Close()
		}
	}
	req.Zero(env.hub.Registry().Len())
}

func TestHealthHandler(t *testing.T) {
	req := require.New(t)
	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	req.Equal(http.StatusOK, rec.Code)
	req.Equal("text/plain", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	req.NoError(err)
	req.Equal("GoChat server is running!", string(body))
}

func TestTestPageHandler(t *testing.T) {
	req := require.New(t)
	srv := NewServer(nil, testLogger(), NewHub(testLogger()), nil, anonymousResolver)
	rec := httptest.NewRecorder()
	srv.TestPageHandler(rec, httptest.NewRequest(http.MethodGet, "/test", http.NoBody))

	req.Equal("text/html", rec.Header().Get("Content-Type"))
	req.Contains(rec.Body.String(), "getMessages")
	req.Contains(rec.Body.String(), "deleteMessage")
}

func TestCredentialFrom(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"none", "/ws", "", ""},
		{"query", "/ws?token=Bearer%20abc", "", "Bearer abc"},
		{"header", "/ws", "Bearer def", "Bearer def"},
		{"query wins", "/ws?token=Bearer%20abc", "Bearer def", "Bearer abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, http.NoBody)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			require.Equal(t, tt.want, credentialFrom(r))
		})
	}
}
