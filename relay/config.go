/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package relay

import (
	"errors"
	"os"
	"strings"
	"time"
)

const minSecretLength = 32

// Config holds the configuration of the relay server
type Config struct {
	// Addr is the listen address
	Addr string

	// Secret signs access tokens. An empty secret runs the relay in
	// anonymous mode, where clients name themselves with ?user=.
	Secret string

	// Issuer is stamped into and required from every token
	Issuer string

	// TokenTTL is the lifetime of issued tokens
	TokenTTL time.Duration

	// AllowTokenIssue exposes POST /token for development setups
	AllowTokenIssue bool

	// AllowedOrigins limits browser websocket origins. Empty allows any.
	AllowedOrigins []string

	WriteTimeout time.Duration
	PongWait     time.Duration
	PingInterval time.Duration

	// SendBuffer is the per-client outbound queue length
	SendBuffer int

	// MaxMessageSize bounds one inbound message, descriptions included
	MaxMessageSize int64
}

// DefaultConfig returns the default configuration of the relay server
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		Issuer:         "tamas-relay",
		TokenTTL:       24 * time.Hour,
		WriteTimeout:   10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   30 * time.Second,
		SendBuffer:     256,
		MaxMessageSize: 1 << 20,
	}
}

// LoadConfigFromEnv overlays TAMAS_RELAY_* environment variables on the
// defaults.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("TAMAS_RELAY_ADDR"); v != "" {
		cfg.Addr = v
	}
	cfg.Secret = os.Getenv("TAMAS_RELAY_SECRET")
	if v := os.Getenv("TAMAS_RELAY_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("TAMAS_RELAY_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TokenTTL = d
		}
	}
	cfg.AllowTokenIssue = os.Getenv("TAMAS_RELAY_ALLOW_TOKEN_ISSUE") == "true"
	if v := os.Getenv("TAMAS_RELAY_ALLOWED_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	return cfg
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.Secret != "" && len(c.Secret) < minSecretLength {
		return errors.New("relay secret must be at least 32 bytes")
	}
	if c.PingInterval <= 0 || c.PongWait <= c.PingInterval {
		return errors.New("pong wait must be longer than the ping interval")
	}
	if c.SendBuffer <= 0 {
		return errors.New("send buffer must be positive")
	}
	return nil
}
