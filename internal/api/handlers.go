// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/quorumsocial/presence/internal/config"
	"github.com/quorumsocial/presence/internal/logging"
	"github.com/quorumsocial/presence/internal/ws"
)

// Handler holds the dependencies of the HTTP endpoints.
type Handler struct {
	hub *ws.Hub
	cfg *config.ServerConfig
}

// NewHandler creates a Handler backed by the given hub.
func NewHandler(hub *ws.Hub, cfg *config.ServerConfig) *Handler {
	return &Handler{hub: hub, cfg: cfg}
}

// getUpgrader creates a websocket upgrader with origin checking and a
// handshake timeout against slow clients.
func (h *Handler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin validates websocket upgrade origins against the
// configured allow list. Requests without an Origin header (non-browser
// clients) are accepted; the auth handshake gates them anyway.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if h.cfg == nil {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket upgrade rejected from unauthorized origin")
	return false
}

// WebSocket upgrades the request and hands the connection to the hub.
// The connection stays anonymous until its auth handshake succeeds.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := h.getUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	h.hub.HandleConn(conn)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "ok",
		"connected_users": h.hub.ConnectedUserCount(),
	})
}
