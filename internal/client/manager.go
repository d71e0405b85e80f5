// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

// Package client implements the client-side connection manager: it
// opens a websocket to the presence endpoint, performs the auth
// handshake, surfaces inbound events, answers heartbeat probes, and
// transparently reconnects after a fixed delay when the transport drops
// unexpectedly.
package client

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/quorumsocial/presence/internal/logging"
	"github.com/quorumsocial/presence/internal/ws"
)

// State names the connection manager's lifecycle states.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateOpen           State = "open"
	StateClosing        State = "closing"
	StateScheduledRetry State = "scheduled-retry"
)

// EventHandler receives application-defined events. kind is the frame
// discriminator; data is the opaque payload.
type EventHandler func(kind string, data json.RawMessage)

// Config configures a Manager.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://). Use DeriveURL to
	// build it from the service's HTTP base URL.
	URL string

	// Token is the bearer credential sent in the auth handshake.
	Token string

	// ReconnectDelay is the fixed delay before a reconnect attempt.
	// Default: 3s.
	ReconnectDelay time.Duration

	// OnEvent receives application-defined events. Optional.
	OnEvent EventHandler

	// Dialer overrides the websocket dialer. Optional.
	Dialer *websocket.Dialer
}

// Manager owns one logical connection to the presence endpoint. The
// transport handle never leaves the manager; callers interact through
// Connect, Disconnect, and Send.
//
// All state transitions happen under one mutex, so a transport close
// racing an explicit Disconnect observes a consistent shouldRetry flag
// and never arms a stray retry timer.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	retryTimer  *time.Timer
	shouldRetry bool
	userID      string

	// writeMu serializes transport writes; Send and the read loop's
	// pong replies share one gorilla connection.
	writeMu sync.Mutex
}

// writeJSON writes one frame under the write mutex.
func (m *Manager) writeJSON(conn *websocket.Conn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// NewManager creates a connection manager in the idle state.
func NewManager(cfg Config) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Manager{
		cfg:    cfg,
		dialer: dialer,
		state:  StateIdle,
	}
}

// DeriveURL converts the service's HTTP base URL into the websocket
// endpoint, deriving the secure variant from the base scheme:
// https://host -> wss://host/ws, http://host -> ws://host/ws.
func DeriveURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}

// Connect starts the connection attempt. Idempotent: calling Connect
// while connecting or open is a no-op.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnecting || m.state == StateOpen {
		return
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}

	m.shouldRetry = true
	m.state = StateConnecting
	go m.dial()
}

// Disconnect closes the connection and cancels any pending reconnect.
// The shouldRetry flag is cleared before the transport closes, so the
// close path observes it and does not re-arm a retry.
func (m *Manager) Disconnect() {
	m.mu.Lock()

	m.shouldRetry = false
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}

	conn := m.conn
	m.conn = nil
	if conn != nil {
		m.state = StateClosing
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}

	m.mu.Lock()
	// A new Connect may have raced the close; only settle to idle if
	// nothing re-armed the manager.
	if !m.shouldRetry {
		m.state = StateIdle
	}
	m.mu.Unlock()
}

// Send writes an application payload if the transport is currently
// open. Returns false otherwise; sends are never queued while
// disconnected, matching the subsystem's at-most-once semantics.
func (m *Manager) Send(payload interface{}) bool {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		return false
	}
	if err := m.writeJSON(conn, payload); err != nil {
		logging.Debug().Err(err).Msg("send failed")
		return false
	}
	return true
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// UserID returns the identifier confirmed by auth_success, or "" before
// the handshake completes.
func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// dial opens the transport and, on success, immediately sends the auth
// frame with the stored credential, without waiting for a response.
func (m *Manager) dial() {
	conn, resp, err := m.dialer.Dial(m.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		logging.Debug().Err(err).Str("url", m.cfg.URL).Msg("dial failed")
		m.handleClose(nil)
		return
	}

	m.mu.Lock()
	if !m.shouldRetry {
		// Disconnect raced the dial; drop the fresh transport.
		m.state = StateIdle
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.mu.Unlock()

	authFrame := ws.Envelope{Kind: ws.KindAuth, Token: m.cfg.Token}
	if err := m.writeJSON(conn, authFrame); err != nil {
		logging.Debug().Err(err).Msg("failed to send auth frame")
		_ = conn.Close()
		m.handleClose(conn)
		return
	}

	m.readLoop(conn)
}

// readLoop consumes frames until the transport closes, then hands off
// to the close path.
func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn)
			return
		}

		var env ws.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logging.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}

		switch env.Kind {
		case ws.KindPing:
			_ = m.writeJSON(conn, ws.Envelope{Kind: ws.KindPong})

		case ws.KindAuthSuccess:
			m.mu.Lock()
			m.userID = env.UserID
			m.mu.Unlock()
			logging.Debug().Str("user_id", env.UserID).Msg("authenticated")

		case ws.KindError:
			logging.Warn().Str("reason", env.Message).Msg("server reported error")

		default:
			if m.cfg.OnEvent != nil {
				m.cfg.OnEvent(env.Kind, env.Data)
			}
		}
	}
}

// handleClose runs when the transport drops. conn identifies which
// transport closed; a stale close (already replaced or explicitly
// disconnected) is ignored. With shouldRetry still set, exactly one
// timer is armed for the fixed delay.
func (m *Manager) handleClose(conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn != nil && m.conn != conn {
		return
	}
	m.conn = nil

	if !m.shouldRetry {
		m.state = StateIdle
		return
	}

	m.state = StateScheduledRetry
	logging.Debug().Dur("delay", m.cfg.ReconnectDelay).Msg("scheduling reconnect")
	m.retryTimer = time.AfterFunc(m.cfg.ReconnectDelay, m.retry)
}

// retry fires when the reconnect timer expires.
func (m *Manager) retry() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldRetry || m.state != StateScheduledRetry {
		return
	}
	m.retryTimer = nil
	m.state = StateConnecting
	go m.dial()
}
