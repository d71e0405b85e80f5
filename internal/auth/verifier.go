// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

// Package auth verifies the bearer tokens presented during the websocket
// auth handshake. Token issuance is owned by the platform's identity
// service; this package only resolves a token to a user ID.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned when a credential is missing, malformed,
// expired, or fails signature verification.
var ErrInvalidToken = errors.New("invalid token")

// Verifier resolves an opaque bearer token to a user identifier.
type Verifier interface {
	// Verify returns the user ID the token belongs to, or an error
	// wrapping ErrInvalidToken when the credential is rejected.
	Verify(ctx context.Context, token string) (string, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (string, error)

// Verify implements Verifier.
func (f VerifierFunc) Verify(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}
