// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifier validates HS256-signed JWTs minted by the identity service.
// The token's "sub" claim carries the user ID.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier with the shared HMAC secret.
// The secret must be at least 32 characters.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("jwt secret must be at least 32 characters, got %d", len(secret))
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

// Verify implements Verifier. It checks the signature, the signing
// method, and the registered time claims, then extracts the subject.
func (v *JWTVerifier) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	subject, err := parsed.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	return subject, nil
}
