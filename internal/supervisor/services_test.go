// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package supervisor

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/quorumsocial/presence/internal/logging"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// fakeHub blocks until its context is canceled, like the real hub's
// heartbeat loop.
type fakeHub struct {
	started chan struct{}
}

func (f *fakeHub) RunWithContext(ctx context.Context) error {
	close(f.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceImplementsSutureService(t *testing.T) {
	var _ suture.Service = (*HubService)(nil)
	var _ suture.Service = (*HTTPService)(nil)
}

func TestHubServiceDelegatesToHub(t *testing.T) {
	hub := &fakeHub{started: make(chan struct{})}
	svc := NewHubService(hub)

	if got := svc.String(); got != "presence-hub" {
		t.Errorf("String() = %q, want presence-hub", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-hub.started:
	case <-time.After(time.Second):
		t.Fatal("hub was not started")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	server := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	// Give ListenAndServe a moment to bind.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestTreeRunsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger())
	hub := &fakeHub{started: make(chan struct{})}
	tree.Add(NewHubService(hub))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- tree.Serve(ctx) }()

	select {
	case <-hub.started:
	case <-time.After(time.Second):
		t.Fatal("supervised service was not started")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop after cancellation")
	}
}
