/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package tamas is the top-level client for one-to-one and group calls. It
// wires the signaling transport, a media source, the peer connection
// factory and the call orchestrator from a single configuration.
package tamas

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
	"github.com/tejzpr/tamas-go/calling"
	"github.com/tejzpr/tamas-go/media"
	"github.com/tejzpr/tamas-go/peer"
	"github.com/tejzpr/tamas-go/signaling"
)

// Options overrides the collaborators NewClient would otherwise build.
type Options struct {
	// Media replaces the platform capture source.
	Media media.Source

	// Peers replaces the pion connection factory.
	Peers peer.Factory

	// Signaling tunes the websocket transport.
	Signaling *signaling.Config

	// Pion tunes the default connection factory. ICEServers and
	// GatherTimeout come from the client Config.
	Pion *peer.PionConfig
}

// Client is the top-level call client
type Client struct {
	cfg *callsdk.Config
	log zerolog.Logger

	transport *signaling.Client
	calls     *calling.Orchestrator

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
	closed  bool
	started bool
}

// NewClient creates a client from config. A nil opts builds a device
// capture source and a pion factory.
func NewClient(config *callsdk.Config, opts *Options) (*Client, error) {
	if config == nil {
		config = callsdk.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &Options{}
	}
	logger := config.BaseLogger().With().Str("user_id", config.UserID).Logger()

	relayURL, err := relayURL(config)
	if err != nil {
		return nil, err
	}
	transport := signaling.NewClient(relayURL, config.AccessToken, opts.Signaling, logger)

	source := opts.Media
	if source == nil {
		device, err := media.NewDeviceSource(media.DefaultDeviceConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open capture devices: %w", err)
		}
		source = device
	}

	peers := opts.Peers
	if peers == nil {
		pionCfg := peer.DefaultPionConfig()
		if opts.Pion != nil {
			copied := *opts.Pion
			pionCfg = &copied
		}
		pionCfg.ICEServers = config.ICEServers
		pionCfg.GatherTimeout = config.GatherTimeout

		// Sources that own their encoders decide the negotiated codecs
		codecs, _ := source.(media.CodecRegistrar)
		factory, err := peer.NewPionFactory(pionCfg, codecs, logger)
		if err != nil {
			return nil, err
		}
		peers = factory
	}

	calls, err := calling.New(calling.Config{
		UserID:      config.UserID,
		Transport:   transport,
		Media:       source,
		Peers:       peers,
		RingTimeout: config.RingTimeout,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       config,
		log:       logger,
		transport: transport,
		calls:     calls,
	}, nil
}

// relayURL adds the chat subscriptions to the relay address. Without an
// access token the relay runs anonymously and takes the user id from the
// query.
func relayURL(config *callsdk.Config) (string, error) {
	raw, err := signaling.BuildURL(config.RelayURL, config.ChatIDs)
	if err != nil {
		return "", err
	}
	if config.AccessToken != "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("user", config.UserID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Calls returns the call orchestrator
func (c *Client) Calls() *calling.Orchestrator {
	return c.calls
}

// Signaling returns the relay transport
func (c *Client) Signaling() *signaling.Client {
	return c.transport
}

// Config returns the client configuration
func (c *Client) Config() *callsdk.Config {
	return c.cfg
}

// Connect dials the relay and starts dispatching inbound call messages.
// The dispatch loop stops on Close.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return calling.ErrClosed
	}
	if c.started {
		return nil
	}

	// Subscribe first so messages right after the handshake are queued
	msgs, unsubscribe := c.transport.Subscribe()
	if err := c.transport.Connect(ctx); err != nil {
		unsubscribe()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.started = true
	go func() {
		defer close(c.done)
		defer unsubscribe()
		err := c.calls.Serve(runCtx, msgs)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Msg("Call dispatch stopped")
		}
		c.mu.Lock()
		c.runErr = err
		c.mu.Unlock()
	}()
	c.log.Info().Strs("chats", c.cfg.ChatIDs).Msg("Connected to relay")
	return nil
}

// Wait blocks until the dispatch loop started by Connect returns.
func (c *Client) Wait() error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	c.mu.Lock()
	defer c.mu.Unlock()
	if errors.Is(c.runErr, context.Canceled) {
		return nil
	}
	return c.runErr
}

// Close ends any call, stops dispatching and disconnects from the relay.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	// The call end notice goes out before the transport closes
	c.calls.Close()
	if cancel != nil {
		cancel()
		<-done
	}
	return c.transport.Close()
}
