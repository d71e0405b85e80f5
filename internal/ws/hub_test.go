// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/quorumsocial/presence/internal/auth"
)

// stubVerifier resolves fixed tokens to user IDs.
type stubVerifier map[string]string

func (s stubVerifier) Verify(_ context.Context, token string) (string, error) {
	if userID, ok := s[token]; ok {
		return userID, nil
	}
	return "", fmt.Errorf("%w: unknown token", auth.ErrInvalidToken)
}

var testVerifier = stubVerifier{
	"alice-token": "alice",
	"bob-token":   "bob",
}

// newTestServer exposes the hub over a real websocket endpoint.
func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		hub.HandleConn(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// dial opens a raw websocket connection to the test server.
func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// authenticate performs the handshake and waits for auth_success, so
// the server-side registration is observable once it returns.
func authenticate(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	if err := conn.WriteJSON(Envelope{Kind: KindAuth, Token: token}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}
	env := readEnvelope(t, conn, time.Second)
	if env.Kind != KindAuthSuccess {
		t.Fatalf("expected auth_success, got %q", env.Kind)
	}
}

// readEnvelope reads one frame within the deadline.
func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return env
}

// expectNoFrame asserts that nothing arrives within the window.
func expectNoFrame(t *testing.T, conn *websocket.Conn, window time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	var env Envelope
	if err := conn.ReadJSON(&env); err == nil {
		t.Fatalf("expected no frame, got kind %q", env.Kind)
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestHandshakeSuccess(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	conn := dial(t, srv)
	if err := conn.WriteJSON(Envelope{Kind: KindAuth, Token: "alice-token"}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}

	env := readEnvelope(t, conn, time.Second)
	if env.Kind != KindAuthSuccess {
		t.Fatalf("expected auth_success, got %q", env.Kind)
	}
	if env.UserID != "alice" {
		t.Errorf("auth_success userId = %q, want alice", env.UserID)
	}
	if !hub.IsOnline("alice") {
		t.Error("alice should be online after handshake")
	}
	if got := hub.ConnectedUserCount(); got != 1 {
		t.Errorf("ConnectedUserCount = %d, want 1", got)
	}
}

func TestHandshakeInvalidToken(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	conn := dial(t, srv)
	if err := conn.WriteJSON(Envelope{Kind: KindAuth, Token: "forged"}); err != nil {
		t.Fatalf("failed to send auth frame: %v", err)
	}

	// Exactly one error frame, then the transport closes.
	env := readEnvelope(t, conn, time.Second)
	if env.Kind != KindError {
		t.Fatalf("expected error frame, got %q", env.Kind)
	}
	if env.Message == "" {
		t.Error("error frame should carry a reason")
	}

	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("transport should be closed after handshake rejection")
	}

	waitFor(t, time.Second, func() bool { return hub.OpenConnCount() == 0 },
		"rejected connection was not removed")
	if hub.ConnectedUserCount() != 0 {
		t.Error("rejected connection must never appear in the registry")
	}
}

func TestHandshakeIgnoresPreAuthFrames(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	conn := dial(t, srv)

	// A slow client may emit frames before its own auth message; none
	// of these may close the connection.
	preAuth := []interface{}{
		Envelope{Kind: KindPong},
		Envelope{Kind: "typing_indicator"},
		map[string]string{"noise": "no kind at all"},
	}
	for _, frame := range preAuth {
		if err := conn.WriteJSON(frame); err != nil {
			t.Fatalf("failed to send pre-auth frame: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send malformed frame: %v", err)
	}

	authenticate(t, conn, "alice-token")
	if !hub.IsOnline("alice") {
		t.Error("alice should be online despite pre-auth noise")
	}
}

func TestHandshakeSecondAuthIgnored(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	conn := dial(t, srv)
	authenticate(t, conn, "alice-token")

	// A second auth on an authenticated connection has no effect: no
	// response, no re-mapping, no duplicate registry entry.
	if err := conn.WriteJSON(Envelope{Kind: KindAuth, Token: "bob-token"}); err != nil {
		t.Fatalf("failed to send second auth frame: %v", err)
	}
	expectNoFrame(t, conn, 100*time.Millisecond)

	if hub.IsOnline("bob") {
		t.Error("second auth must not register a new user")
	}
	if !hub.IsOnline("alice") {
		t.Error("alice mapping must be unchanged")
	}
	if got := hub.ConnectedUserCount(); got != 1 {
		t.Errorf("ConnectedUserCount = %d, want 1", got)
	}
	if got := len(hub.registry.connsFor("alice")); got != 1 {
		t.Errorf("alice has %d registry entries, want 1", got)
	}
}

func TestSendToUserFansOutToAllConnections(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	alice1 := dial(t, srv)
	alice2 := dial(t, srv)
	bob := dial(t, srv)
	authenticate(t, alice1, "alice-token")
	authenticate(t, alice2, "alice-token")
	authenticate(t, bob, "bob-token")

	type notification struct {
		Text string `json:"text"`
	}
	if err := hub.SendToUser("alice", "notification", notification{Text: "new comment"}); err != nil {
		t.Fatalf("SendToUser failed: %v", err)
	}

	for i, conn := range []*websocket.Conn{alice1, alice2} {
		env := readEnvelope(t, conn, time.Second)
		if env.Kind != "notification" {
			t.Errorf("alice conn %d: kind = %q, want notification", i+1, env.Kind)
		}
		var n notification
		if err := json.Unmarshal(env.Data, &n); err != nil {
			t.Errorf("alice conn %d: bad payload: %v", i+1, err)
		} else if n.Text != "new comment" {
			t.Errorf("alice conn %d: text = %q", i+1, n.Text)
		}
	}

	// Bob gets nothing.
	expectNoFrame(t, bob, 100*time.Millisecond)
}

func TestSendToOfflineUserIsNoOp(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)

	if err := hub.SendToUser("nobody", "notification", map[string]string{"x": "y"}); err != nil {
		t.Fatalf("sending to an offline user must be a silent no-op, got %v", err)
	}
}

func TestBroadcastReachesEveryUser(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	alice1 := dial(t, srv)
	alice2 := dial(t, srv)
	bob := dial(t, srv)
	authenticate(t, alice1, "alice-token")
	authenticate(t, alice2, "alice-token")
	authenticate(t, bob, "bob-token")

	// A closed connection at call time receives nothing and does not
	// abort delivery to the rest.
	_ = alice2.Close()
	waitFor(t, time.Second, func() bool {
		return len(hub.registry.connsFor("alice")) == 1
	}, "closed connection was not unregistered")

	if err := hub.Broadcast("announcement", map[string]string{"text": "maintenance at noon"}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	for _, conn := range []*websocket.Conn{alice1, bob} {
		env := readEnvelope(t, conn, time.Second)
		if env.Kind != "announcement" {
			t.Errorf("kind = %q, want announcement", env.Kind)
		}
	}
}

func TestHeartbeatEvictsUnresponsiveConnection(t *testing.T) {
	const interval = 50 * time.Millisecond
	hub := NewHub(testVerifier, interval)
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	conn := dial(t, srv)
	authenticate(t, conn, "alice-token")

	// Never answer any probe: the first sweep clears the liveness
	// flag, the second one evicts. Worst case two intervals.
	waitFor(t, 10*interval, func() bool { return !hub.IsOnline("alice") },
		"unresponsive connection was not evicted")
	waitFor(t, 10*interval, func() bool { return hub.OpenConnCount() == 0 },
		"evicted connection still tracked")

	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break // transport was force-closed, as expected
		}
	}
}

func TestHeartbeatKeepsResponsiveConnection(t *testing.T) {
	const interval = 50 * time.Millisecond
	hub := NewHub(testVerifier, interval)
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.RunWithContext(ctx) }()

	conn := dial(t, srv)
	authenticate(t, conn, "alice-token")

	// Answer every probe for many sweep cycles.
	done := time.After(8 * interval)
	for {
		select {
		case <-done:
			if !hub.IsOnline("alice") {
				t.Error("responsive connection must never be evicted")
			}
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(2 * interval)); err != nil {
			t.Fatalf("failed to set read deadline: %v", err)
		}
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("transport closed unexpectedly: %v", err)
		}
		if env.Kind == KindPing {
			if err := conn.WriteJSON(Envelope{Kind: KindPong}); err != nil {
				t.Fatalf("failed to send pong: %v", err)
			}
		}
	}
}

func TestPeerCloseUnregisters(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	conn := dial(t, srv)
	authenticate(t, conn, "alice-token")
	_ = conn.Close()

	waitFor(t, time.Second, func() bool { return !hub.IsOnline("alice") },
		"peer close did not unregister the connection")
	waitFor(t, time.Second, func() bool { return hub.OpenConnCount() == 0 },
		"peer close did not drop the connection from the heartbeat set")
}

func TestShutdownClosesAllConnections(t *testing.T) {
	hub := NewHub(testVerifier, time.Hour)
	srv := newTestServer(t, hub)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.RunWithContext(ctx) }()

	conn := dial(t, srv)
	authenticate(t, conn, "alice-token")

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunWithContext did not return after cancellation")
	}

	waitFor(t, time.Second, func() bool { return hub.OpenConnCount() == 0 },
		"shutdown left connections open")
}
