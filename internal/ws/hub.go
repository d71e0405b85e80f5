// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package ws

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/quorumsocial/presence/internal/auth"
	"github.com/quorumsocial/presence/internal/logging"
	"github.com/quorumsocial/presence/internal/metrics"
)

// verifyTimeout bounds a single credential verification during the
// handshake.
const verifyTimeout = 5 * time.Second

// Hub owns the connection registry and the set of all open transports
// (authenticated or not), runs the heartbeat sweep over them, performs
// the auth handshake on inbound frames, and routes outbound events.
//
// One Hub is constructed per process and shared by reference; there is
// no package-level instance.
type Hub struct {
	verifier auth.Verifier
	registry *Registry
	interval time.Duration

	// conns holds every open transport, including ones that have not
	// authenticated yet. The heartbeat sweep covers all of them.
	conns *connSet
}

// NewHub creates a hub that authenticates handshakes against verifier
// and sweeps connections every interval.
func NewHub(verifier auth.Verifier, interval time.Duration) *Hub {
	return &Hub{
		verifier: verifier,
		registry: NewRegistry(),
		interval: interval,
		conns:    newConnSet(),
	}
}

// HandleConn adopts a freshly upgraded websocket connection: the hub
// tracks it for heartbeats and starts its read loop. The connection is
// anonymous until its auth handshake succeeds.
func (h *Hub) HandleConn(wsc *websocket.Conn) *Conn {
	c := newConn(wsc)

	wsc.SetReadLimit(maxMessageSize)
	wsc.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	h.conns.add(c)
	metrics.OpenConnections.Inc()
	logging.Debug().Str("conn_id", c.id).Msg("websocket connection accepted")

	go h.readLoop(c)
	return c
}

// readLoop consumes inbound frames until the transport closes, then
// runs the close path. Pre-auth, only auth frames are acted on; pong is
// tolerated as an informational frame and anything else is ignored so a
// slow client racing its own handshake is not punished.
func (h *Hub) readLoop(c *Conn) {
	defer h.removeConn(c)

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("conn_id", c.id).Msg("unexpected websocket close")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			// One bad frame must not kill the session.
			logging.Debug().Err(err).Str("conn_id", c.id).Msg("ignoring malformed frame")
			continue
		}

		switch env.Kind {
		case KindPong:
			c.markAlive()

		case KindAuth:
			if err := h.handshake(c, env.Token); err != nil {
				return
			}

		default:
			// The core does not interpret inbound application frames.
			logging.Debug().Str("conn_id", c.id).Str("kind", env.Kind).Msg("ignoring frame")
		}
	}
}

// handshake authenticates the connection with the credential verifier.
// On success the connection enters the registry and the client receives
// auth_success. On rejection the client receives exactly one error
// frame and a non-nil error tells the read loop to close the transport.
// A second auth frame on an authenticated connection is a no-op.
func (h *Hub) handshake(c *Conn, token string) error {
	if c.UserID() != "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
	defer cancel()

	userID, err := h.verifier.Verify(ctx, token)
	if err != nil {
		metrics.HandshakesTotal.WithLabelValues("rejected").Inc()
		logging.Info().Err(err).Str("conn_id", c.id).Msg("handshake rejected")

		reason := "authentication failed"
		if errors.Is(err, auth.ErrInvalidToken) {
			reason = "invalid or expired token"
		}
		if werr := c.writeEnvelope(Envelope{Kind: KindError, Message: reason}); werr != nil {
			logging.Debug().Err(werr).Str("conn_id", c.id).Msg("failed to write error frame")
		}
		return err
	}

	if !c.setUser(userID) {
		return nil
	}
	h.registry.Register(userID, c)
	metrics.HandshakesTotal.WithLabelValues("success").Inc()
	metrics.UsersOnline.Set(float64(h.registry.ConnectedUserCount()))

	logging.Info().Str("conn_id", c.id).Str("user_id", userID).Msg("connection authenticated")

	if err := c.writeEnvelope(Envelope{Kind: KindAuthSuccess, UserID: userID}); err != nil {
		logging.Debug().Err(err).Str("conn_id", c.id).Msg("failed to write auth_success")
	}
	return nil
}

// removeConn runs the close path exactly once per connection: drop it
// from the heartbeat set, unregister it, close the transport. Both the
// read loop and shutdown call this; a heartbeat eviction reaches it via
// the read loop observing the forced close.
func (h *Hub) removeConn(c *Conn) {
	if !c.removed.CompareAndSwap(false, true) {
		return
	}

	h.conns.remove(c)
	h.registry.Unregister(c)
	c.close()

	metrics.OpenConnections.Dec()
	metrics.UsersOnline.Set(float64(h.registry.ConnectedUserCount()))

	logging.Debug().Str("conn_id", c.id).Str("user_id", c.UserID()).Msg("websocket connection closed")
}

// RunWithContext runs the heartbeat monitor until the context is
// canceled, then closes every open connection and returns ctx.Err().
// Designed for suture supervision.
func (h *Hub) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep probes every open transport. A connection that did not respond
// since the previous sweep is terminated forcibly; the normal close
// path unregisters it. A probe failure on one connection never aborts
// the sweep of the rest.
func (h *Hub) sweep() {
	for _, c := range h.conns.snapshot() {
		if !c.sweepAlive() {
			metrics.HeartbeatEvictions.Inc()
			logging.Info().Str("conn_id", c.id).Str("user_id", c.UserID()).Msg("evicting unresponsive connection")
			c.close()
			continue
		}
		if err := c.writeRaw(pingFrame); err != nil {
			logging.Debug().Err(err).Str("conn_id", c.id).Msg("failed to send heartbeat probe")
		}
	}
}

// shutdown force-closes all open transports. The per-connection read
// loops run the normal close path.
func (h *Hub) shutdown() {
	conns := h.conns.snapshot()
	for _, c := range conns {
		c.close()
	}
	logging.Info().
		Str("component", "presence-hub").
		Int("conns_closed", len(conns)).
		Msg("presence hub stopped")
}

// SendToUser serializes the event once and writes it to every open
// connection of the user. An offline user is a silent no-op; delivery
// is at-most-once and best-effort.
func (h *Hub) SendToUser(userID, kind string, data interface{}) error {
	conns := h.registry.connsFor(userID)
	if len(conns) == 0 {
		return nil
	}

	payload, err := encodeEvent(kind, data)
	if err != nil {
		return err
	}

	for _, c := range conns {
		if err := c.writeRaw(payload); err != nil {
			metrics.SendFailures.Inc()
			logging.Debug().Err(err).Str("conn_id", c.id).Str("user_id", userID).Msg("event write failed")
			c.close()
			continue
		}
		metrics.EventsDelivered.WithLabelValues("user").Inc()
	}
	return nil
}

// Broadcast serializes the event once and writes it to every
// authenticated connection across all users.
func (h *Hub) Broadcast(kind string, data interface{}) error {
	payload, err := encodeEvent(kind, data)
	if err != nil {
		return err
	}

	for _, c := range h.registry.allConns() {
		if err := c.writeRaw(payload); err != nil {
			metrics.SendFailures.Inc()
			logging.Debug().Err(err).Str("conn_id", c.id).Msg("broadcast write failed")
			c.close()
			continue
		}
		metrics.EventsDelivered.WithLabelValues("broadcast").Inc()
	}
	return nil
}

// IsOnline reports whether the user has at least one authenticated
// connection. Reads the registry at the instant of the call.
func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// ConnectedUserCount returns the number of distinct connected users.
func (h *Hub) ConnectedUserCount() int {
	return h.registry.ConnectedUserCount()
}

// OpenConnCount returns the number of open transports, including ones
// that have not authenticated.
func (h *Hub) OpenConnCount() int {
	return h.conns.len()
}
