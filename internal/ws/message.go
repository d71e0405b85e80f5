// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

// Package ws implements the server side of the real-time presence and
// event-delivery subsystem: the connection registry, the auth handshake,
// the heartbeat monitor, and the message router.
package ws

import (
	"github.com/goccy/go-json"
)

// Frame kinds understood by the core protocol. Any other kind is an
// application-defined event and is treated as opaque.
const (
	KindAuth        = "auth"
	KindAuthSuccess = "auth_success"
	KindError       = "error"
	KindPing        = "ping"
	KindPong        = "pong"
)

// Envelope is one JSON object per websocket frame. Kind discriminates;
// the remaining fields are populated per kind.
type Envelope struct {
	Kind string `json:"kind"`

	// Token carries the bearer credential on auth frames.
	Token string `json:"token,omitempty"`

	// UserID is set on auth_success frames.
	UserID string `json:"userId,omitempty"`

	// Message is the human-readable reason on error frames.
	Message string `json:"message,omitempty"`

	// Data is the opaque payload of application-defined events.
	Data json.RawMessage `json:"data,omitempty"`
}

// encodeEvent serializes an application event exactly once so the same
// bytes fan out to every recipient connection.
func encodeEvent(kind string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Kind: kind, Data: raw})
}

// pingFrame is the serialized liveness probe, built once at package init.
var pingFrame = mustMarshal(Envelope{Kind: KindPing})

func mustMarshal(env Envelope) []byte {
	b, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return b
}
