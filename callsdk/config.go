/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsdk

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the configuration shared by the call layer.
type Config struct {
	// UserID is the local participant identity.
	UserID string

	// RelayURL is the websocket endpoint of the signaling relay.
	RelayURL string

	// AccessToken is sent as a bearer token when dialing the relay.
	AccessToken string

	// ChatIDs are the chats whose calls this client wants to hear about.
	ChatIDs []string

	// ICEServers are STUN/TURN URLs handed to every peer connection.
	ICEServers []string

	// GatherTimeout bounds ICE candidate gathering for one description.
	GatherTimeout time.Duration

	// RingTimeout ends unanswered calls. Zero disables it.
	RingTimeout time.Duration

	// LogLevel is a zerolog level name ("debug", "info", ...).
	LogLevel string

	// Logger overrides the logger built from LogLevel.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RelayURL:      "ws://localhost:8080/ws",
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		GatherTimeout: 5 * time.Second,
		RingTimeout:   45 * time.Second,
		LogLevel:      "info",
	}
}

// LoadConfigFromEnv starts from DefaultConfig and applies TAMAS_* variables.
func LoadConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	cfg.UserID = getEnv("TAMAS_USER_ID", cfg.UserID)
	cfg.RelayURL = getEnv("TAMAS_RELAY_URL", cfg.RelayURL)
	cfg.AccessToken = getEnv("TAMAS_ACCESS_TOKEN", cfg.AccessToken)
	cfg.LogLevel = getEnv("TAMAS_LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("TAMAS_CHAT_IDS"); v != "" {
		cfg.ChatIDs = splitList(v)
	}
	if v := os.Getenv("TAMAS_ICE_SERVERS"); v != "" {
		cfg.ICEServers = splitList(v)
	}

	var err error
	if cfg.GatherTimeout, err = getDuration("TAMAS_GATHER_TIMEOUT", cfg.GatherTimeout); err != nil {
		return nil, err
	}
	if cfg.RingTimeout, err = getDuration("TAMAS_RING_TIMEOUT", cfg.RingTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can start a client.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return errors.New("user id is required")
	}
	if c.RelayURL == "" {
		return errors.New("relay url is required")
	}
	if c.GatherTimeout <= 0 {
		return fmt.Errorf("gather timeout must be positive, got %s", c.GatherTimeout)
	}
	if c.RingTimeout < 0 {
		return fmt.Errorf("ring timeout must not be negative, got %s", c.RingTimeout)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return nil
}

// BaseLogger returns Logger if set, otherwise a console logger at LogLevel.
func (c *Config) BaseLogger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return NewLogger(c.LogLevel, os.Stderr, true)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
