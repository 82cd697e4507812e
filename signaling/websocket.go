/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package signaling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tejzpr/tamas-go/callsdk"
)

// Config holds the configuration for the websocket client
type Config struct {
	HandshakeTimeout            time.Duration // Timeout for the websocket handshake
	WriteTimeout                time.Duration // Deadline for a single write
	PingInterval                time.Duration // Interval between ping messages
	PongTimeout                 time.Duration // Timeout for receiving a pong response
	BackoffTimeMax              time.Duration // Maximum time between connection attempts
	BackoffTimeReset            time.Duration // Initial time before the first retry
	MaxRetries                  int           // Number of times to retry before giving up
	InitialConnectionMaxRetries int           // Number of times to retry before giving up on the initial connection
	SubscriberBuffer            int           // Capacity of each subscriber channel
}

// DefaultConfig returns the default configuration for the websocket client
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:            10 * time.Second,
		WriteTimeout:                10 * time.Second,
		PingInterval:                30 * time.Second,
		PongTimeout:                 10 * time.Second,
		BackoffTimeMax:              32 * time.Second,
		BackoffTimeReset:            1 * time.Second,
		MaxRetries:                  3,
		InitialConnectionMaxRetries: 5,
		SubscriberBuffer:            256,
	}
}

// ConnectionState is reported to connection state handlers.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
)

// Client is a websocket Transport with automatic reconnection.
type Client struct {
	url           string
	token         string
	config        *Config
	log           zerolog.Logger
	mu            sync.Mutex
	writeMu       sync.Mutex
	conn          *websocket.Conn
	connected     bool
	connecting    bool
	hasConnected  bool
	closed        bool
	closeCh       chan struct{}
	subscribers   map[int]chan *Message
	nextSub       int
	stateHandlers []func(ConnectionState)
}

var _ Transport = (*Client)(nil)

// NewClient creates a websocket client for the relay at rawURL.
func NewClient(rawURL, token string, config *Config, logger zerolog.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = 1
	}

	return &Client{
		url:         rawURL,
		token:       token,
		config:      config,
		log:         logger.With().Str("component", "signaling").Logger(),
		closeCh:     make(chan struct{}),
		subscribers: make(map[int]chan *Message),
	}
}

// BuildURL appends one chat query parameter per chat id to base.
func BuildURL(base string, chatIDs []string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("invalid relay url scheme %q", u.Scheme)
	}
	q := u.Query()
	for _, id := range chatIDs {
		q.Add("chat", id)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OnConnectionState registers a handler for connection state changes.
func (c *Client) OnConnectionState(handler func(ConnectionState)) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	c.stateHandlers = append(c.stateHandlers, handler)
	c.mu.Unlock()
}

// Connect establishes the websocket connection, retrying with backoff.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("client is closed")
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	c.connecting = true
	c.mu.Unlock()

	return c.connectWithBackoff(ctx)
}

// IsConnected returns whether the client currently holds a live connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send writes one message to the relay.
func (c *Client) Send(ctx context.Context, msg *Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return callsdk.ErrNotConnected
	}

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("error writing %s: %w", msg.Type, err)
	}
	return nil
}

// Subscribe returns a channel receiving every inbound message.
func (c *Client) Subscribe() (<-chan *Message, func()) {
	ch := make(chan *Message, c.config.SubscriberBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
			c.mu.Unlock()
		})
	}
}

// Disconnect closes the current connection without reconnecting.
// The client may Connect again afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected && !c.connecting {
		c.mu.Unlock()
		return nil
	}

	// Signal all goroutines to stop
	close(c.closeCh)
	c.closeCh = make(chan struct{})

	conn := c.conn
	c.conn = nil
	c.connected = false
	c.connecting = false
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Disconnected by client"))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.notifyState(StateDisconnected)
	return nil
}

// Close disconnects and closes every subscription channel.
func (c *Client) Close() error {
	err := c.Disconnect()

	c.mu.Lock()
	c.closed = true
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()
	return err
}

// connectWithBackoff attempts to connect with exponential backoff
func (c *Client) connectWithBackoff(ctx context.Context) error {
	c.mu.Lock()
	maxRetries := c.config.MaxRetries
	if !c.hasConnected {
		maxRetries = c.config.InitialConnectionMaxRetries
	}
	closeCh := c.closeCh
	c.mu.Unlock()

	backoff := c.config.BackoffTimeReset
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = c.attemptConnection(ctx); err == nil {
			return nil
		}
		c.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Relay connection attempt failed")

		if attempt == maxRetries {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
			backoff *= 2
			if backoff > c.config.BackoffTimeMax {
				backoff = c.config.BackoffTimeMax
			}
		case <-closeCh:
			timer.Stop()
			return nil // Stopped by user
		case <-ctx.Done():
			timer.Stop()
			c.mu.Lock()
			c.connecting = false
			c.mu.Unlock()
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	c.notifyState(StateDisconnected)
	return fmt.Errorf("failed to connect after %d attempts: %w", maxRetries+1, err)
}

// attemptConnection makes a single connection attempt
func (c *Client) attemptConnection(ctx context.Context) error {
	headers := http.Header{}
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("relay rejected credentials: %w", err)
		}
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		// Reset the read deadline
		return conn.SetReadDeadline(time.Time{})
	})

	c.mu.Lock()
	if c.closed || !c.connecting {
		// Disconnected while dialing
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.connected = true
	c.connecting = false
	c.hasConnected = true
	closeCh := c.closeCh
	c.mu.Unlock()

	c.log.Info().Str("url", c.url).Msg("Connected to relay")
	c.notifyState(StateConnected)

	done := make(chan struct{})
	go c.startPingPong(conn, closeCh, done)
	go c.listen(conn, done)
	return nil
}

// listen reads messages from one connection until it fails
func (c *Client) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnectionError(conn, err)
			return
		}

		msg, err := Decode(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("Dropping malformed relay message")
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch fans a message out to every subscriber. Slow subscribers lose
// messages rather than stall the read loop.
func (c *Client) dispatch(msg *Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- msg:
		default:
			c.log.Warn().Int("subscriber", id).Str("type", string(msg.Type)).Msg("Subscriber buffer full, dropping message")
		}
	}
}

// handleConnectionError triggers reconnection unless the client was
// deliberately disconnected
func (c *Client) handleConnectionError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Replaced or disconnected already
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	closeCh := c.closeCh
	select {
	case <-closeCh:
		c.mu.Unlock()
		return
	default:
	}
	c.connecting = true
	c.mu.Unlock()

	_ = conn.Close()
	c.log.Warn().Err(err).Msg("Relay connection lost, reconnecting")
	c.notifyState(StateReconnecting)

	go func() {
		_ = c.connectWithBackoff(context.Background())
	}()
}

// startPingPong keeps the connection alive; a missed pong fails the read loop
func (c *Client) startPingPong(conn *websocket.Conn, closeCh, done <-chan struct{}) {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(conn); err != nil {
				_ = conn.Close()
				return
			}
		case <-closeCh:
			return
		case <-done:
			return
		}
	}
}

// ping sends a ping control frame and arms the pong deadline
func (c *Client) ping(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout)); err != nil {
		return err
	}
	data := []byte(fmt.Sprintf("%d", time.Now().UnixMilli()))
	return conn.WriteControl(websocket.PingMessage, data, time.Now().Add(c.config.WriteTimeout))
}

func (c *Client) notifyState(state ConnectionState) {
	c.mu.Lock()
	handlers := make([]func(ConnectionState), len(c.stateHandlers))
	copy(handlers, c.stateHandlers)
	c.mu.Unlock()

	for _, h := range handlers {
		h(state)
	}
}
