// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

// Package main is the entry point for the presence server.
//
// The presence server is the real-time subsystem of the Quorum
// community platform. It tracks which users are currently connected
// (across any number of simultaneous devices), detects dead connections
// via heartbeats, and fans out events pushed by the platform's business
// logic to every live connection of a user, or to everyone.
//
// # Application Architecture
//
// Startup wires the components in order:
//
//  1. Configuration: layered loading via koanf v2 (defaults, YAML file,
//     PRESENCE_* environment variables)
//  2. Logging: global zerolog logger
//  3. Credential verifier: HS256 JWT verification against the identity
//     service's shared secret, optionally behind a circuit breaker
//  4. Hub: connection registry, auth handshake, heartbeat monitor,
//     message router
//  5. HTTP server: Chi router exposing /ws, /healthz, /metrics
//  6. Supervision: hub and HTTP server run under a suture v4 tree
//
// # Configuration
//
// Required:
//   - PRESENCE_AUTH_JWT_SECRET: 32+ character HMAC secret shared with
//     the identity service
//
// Optional:
//   - PRESENCE_SERVER_ADDR: listen address (default :8080)
//   - PRESENCE_HEARTBEAT_INTERVAL: sweep interval (default 30s)
//   - PRESENCE_LOG_LEVEL, PRESENCE_LOG_FORMAT
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger a graceful shutdown: the HTTP server
// drains in-flight requests and the hub closes every open connection.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quorumsocial/presence/internal/api"
	"github.com/quorumsocial/presence/internal/auth"
	"github.com/quorumsocial/presence/internal/config"
	"github.com/quorumsocial/presence/internal/logging"
	"github.com/quorumsocial/presence/internal/supervisor"
	"github.com/quorumsocial/presence/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Timestamp: true,
	})

	verifier, err := buildVerifier(&cfg.Auth)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize credential verifier")
	}

	hub := ws.NewHub(verifier, cfg.Heartbeat.Interval)
	handler := api.NewHandler(hub, &cfg.Server)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(handler, &cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger())
	tree.Add(supervisor.NewHubService(hub))
	tree.Add(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Dur("heartbeat_interval", cfg.Heartbeat.Interval).
		Msg("presence server starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal().Err(err).Msg("supervisor exited")
	}

	logging.Info().Msg("presence server stopped")
}

// buildVerifier constructs the credential verifier from configuration.
func buildVerifier(cfg *config.AuthConfig) (auth.Verifier, error) {
	jwtVerifier, err := auth.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if cfg.BreakerEnabled {
		return auth.NewBreakerVerifier(jwtVerifier), nil
	}
	return jwtVerifier, nil
}
