// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Tree is the root supervisor for the presence service.
type Tree struct {
	root *suture.Supervisor
}

// NewTree creates the supervisor tree. logger receives suture lifecycle
// events; pass logging.NewSlogLogger() so they flow through zerolog.
func NewTree(logger *slog.Logger) *Tree {
	// The sutureslog API is (&Handler{Logger: logger}).MustHook(),
	// pointer receiver required.
	handler := &sutureslog.Handler{Logger: logger}

	root := suture.New("presence", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})

	return &Tree{root: root}
}

// Add registers a service with the root supervisor.
func (t *Tree) Add(svc suture.Service) suture.ServiceToken {
	return t.root.Add(svc)
}

// Serve runs the tree until the context is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}
