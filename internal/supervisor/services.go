// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

// Package supervisor runs the presence service's long-lived components
// under a suture v4 supervisor: the hub (heartbeat monitor) and the
// HTTP server. A crashed component is restarted with backoff instead of
// taking the process down.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/quorumsocial/presence/internal/logging"
)

// ContextHub matches *ws.Hub's RunWithContext method without importing
// the ws package.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService wraps the hub as a supervised service.
type HubService struct {
	hub ContextHub
}

// NewHubService creates the hub service wrapper.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service. Returns ctx.Err() on shutdown.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logging.
func (s *HubService) String() string {
	return "presence-hub"
}

// HTTPService runs an http.Server as a supervised service, draining
// in-flight requests on shutdown.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewHTTPService creates the HTTP server wrapper.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. It blocks in ListenAndServe until
// the context is canceled, then drains with the configured timeout.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server drain failed, forcing close")
			_ = s.server.Close()
		}
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *HTTPService) String() string {
	return "http-server"
}
