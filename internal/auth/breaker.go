// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/quorumsocial/presence/internal/logging"
)

// BreakerVerifier wraps a Verifier in a circuit breaker. When the
// underlying verifier reaches a remote identity service, a string of
// failures trips the breaker and handshakes fail fast instead of piling
// up on a dead dependency. Rejected tokens do not count as failures.
type BreakerVerifier struct {
	inner   Verifier
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreakerVerifier wraps inner with a circuit breaker using gobreaker
// v2's generic API.
func NewBreakerVerifier(inner Verifier) *BreakerVerifier {
	settings := gobreaker.Settings{
		Name:        "credential-verifier",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("credential verifier breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// An invalid credential is a verdict, not an outage.
			return err == nil || errors.Is(err, ErrInvalidToken)
		},
	}

	return &BreakerVerifier{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[string](settings),
	}
}

// Verify implements Verifier.
func (b *BreakerVerifier) Verify(ctx context.Context, token string) (string, error) {
	userID, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Verify(ctx, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%w: verifier unavailable", ErrInvalidToken)
		}
		return "", err
	}
	return userID, nil
}
