// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

// Package metrics exposes Prometheus instrumentation for the presence
// service: connection lifecycle, handshake outcomes, heartbeat
// evictions, and event delivery counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenConnections tracks every accepted transport connection,
	// authenticated or not.
	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_open_connections",
			Help: "Current number of open websocket connections",
		},
	)

	// UsersOnline tracks distinct users with at least one authenticated
	// connection.
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_users_online",
			Help: "Current number of distinct users with an authenticated connection",
		},
	)

	// HandshakesTotal counts auth handshake outcomes.
	HandshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_handshakes_total",
			Help: "Total auth handshakes by outcome",
		},
		[]string{"outcome"}, // "success", "rejected"
	)

	// HeartbeatEvictions counts connections force-closed by the
	// liveness sweep.
	HeartbeatEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_heartbeat_evictions_total",
			Help: "Total connections evicted for missed heartbeats",
		},
	)

	// EventsDelivered counts event payload writes to individual
	// connections.
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_delivered_total",
			Help: "Total events written to connections",
		},
		[]string{"mode"}, // "user", "broadcast"
	)

	// SendFailures counts failed writes to connections.
	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_send_failures_total",
			Help: "Total failed event writes to connections",
		},
	)
)
