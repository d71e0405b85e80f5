// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024 // 64 KB
)

// Conn wraps one accepted websocket transport. It carries the two
// mutable flags the subsystem needs: the authenticated user (absent
// until the handshake succeeds) and the liveness flag driven by the
// heartbeat sweep.
type Conn struct {
	id string
	ws *websocket.Conn

	// writeMu serializes writes; the send path, the heartbeat sweep,
	// and the handshake all write to the same transport.
	writeMu sync.Mutex

	// alive is reset to true by any pong and to false at the start of
	// each sweep.
	alive atomic.Bool

	// userID is set exactly once, by a successful handshake.
	userMu sync.Mutex
	userID string

	// removed guards the one-time close bookkeeping so a peer close
	// racing a heartbeat eviction unregisters exactly once.
	removed atomic.Bool
}

func newConn(wsc *websocket.Conn) *Conn {
	c := &Conn{
		id: uuid.NewString(),
		ws: wsc,
	}
	c.alive.Store(true)
	return c
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// UserID returns the authenticated user, or "" before the handshake.
func (c *Conn) UserID() string {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	return c.userID
}

// setUser records the authenticated user. Returns false if the
// connection already authenticated; a connection authenticates once.
func (c *Conn) setUser(userID string) bool {
	c.userMu.Lock()
	defer c.userMu.Unlock()
	if c.userID != "" {
		return false
	}
	c.userID = userID
	return true
}

// markAlive resets the liveness flag; called on pong frames and
// protocol-level pongs.
func (c *Conn) markAlive() {
	c.alive.Store(true)
}

// sweepAlive clears the liveness flag and reports whether the
// connection responded since the previous sweep.
func (c *Conn) sweepAlive() bool {
	return c.alive.Swap(false)
}

// writeRaw writes one pre-serialized frame with a write deadline.
func (c *Conn) writeRaw(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// writeEnvelope serializes and writes one control frame.
func (c *Conn) writeEnvelope(env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.writeRaw(payload)
}

// close terminates the transport immediately. The read loop observes
// the closed transport and runs the normal unregister path.
func (c *Conn) close() {
	_ = c.ws.Close()
}
