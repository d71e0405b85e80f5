// Presence - Real-time Presence and Event Delivery for Quorum
// Copyright 2026 Quorum Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/quorumsocial/presence

// Package config loads service configuration via koanf v2 with layered
// sources (highest priority wins): environment variables, YAML config
// file, built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the presence service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	Heartbeat HeartbeatConfig `koanf:"heartbeat"`
	Client    ClientConfig    `koanf:"client"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig controls the HTTP listener and websocket endpoint.
type ServerConfig struct {
	// Addr is the host:port the HTTP server binds to.
	Addr string `koanf:"addr" validate:"required"`

	// AllowedOrigins lists Origin header values accepted on websocket
	// upgrades. "*" accepts any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// ShutdownTimeout bounds the HTTP server drain on shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`

	// RateLimitPerMinute caps requests per client IP per minute.
	// 0 disables rate limiting.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute" validate:"min=0"`
}

// AuthConfig controls credential verification for the auth handshake.
type AuthConfig struct {
	// JWTSecret is the HMAC secret used to verify bearer tokens.
	// Must be at least 32 characters.
	JWTSecret string `koanf:"jwt_secret"`

	// BreakerEnabled wraps the verifier in a circuit breaker. Useful
	// when verification reaches a remote identity service.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// HeartbeatConfig controls the liveness sweep.
type HeartbeatConfig struct {
	// Interval between liveness sweeps. A connection that misses a full
	// probe/response cycle is evicted, so worst-case detection latency
	// is two intervals.
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// ClientConfig controls the client connection manager defaults.
type ClientConfig struct {
	// ReconnectDelay is the fixed delay before a reconnect attempt.
	ReconnectDelay time.Duration `koanf:"reconnect_delay" validate:"gt=0"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			AllowedOrigins:     []string{"*"},
			ShutdownTimeout:    10 * time.Second,
			RateLimitPerMinute: 300,
		},
		Auth: AuthConfig{
			JWTSecret:      "",
			BreakerEnabled: false,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 30 * time.Second,
		},
		Client: ClientConfig{
			ReconnectDelay: 3 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for invalid or inconsistent values.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Cross-field rules the struct tags cannot express.
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters, got %d", len(c.Auth.JWTSecret))
	}
	if c.Heartbeat.Interval < time.Second {
		return fmt.Errorf("heartbeat.interval %s is below the 1s minimum", c.Heartbeat.Interval)
	}

	return nil
}
