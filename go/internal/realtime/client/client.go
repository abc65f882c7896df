package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pointdeck/pointdeck/go/internal/realtime/gateway"
)

// ErrNotConnected is returned by Send when no connection is open.
// There is no queueing or replay: the caller decides whether to retry
// after reconnecting.
var ErrNotConnected = errors.New("websocket is not connected")

// Handlers carries the lifecycle callbacks. Nil callbacks are skipped.
type Handlers struct {
	OnOpen    func()
	OnClose   func()
	OnError   func(error)
	OnMessage func(*gateway.Envelope)
}

// Options configures a realtime client.
type Options struct {
	// Endpoint is the WebSocket URL, e.g. ws://host:8080/ws/session.
	Endpoint    string
	SessionID   string
	JoinToken   string
	UserID      string
	DisplayName string

	HandshakeTimeout time.Duration
}

// Client is the client-side counterpart of the realtime gateway: it
// holds one WebSocket connection, sends command envelopes and surfaces
// broadcasts through the handlers.
type Client struct {
	opts     Options
	handlers Handlers
	dialer   *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// New creates a realtime client. Connect must be called before Send.
func New(opts Options, handlers Handlers) *Client {
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		opts:     opts,
		handlers: handlers,
		dialer:   &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	query := u.Query()
	query.Set("sessionId", c.opts.SessionID)
	query.Set("token", c.opts.JoinToken)
	query.Set("userId", c.opts.UserID)
	if c.opts.DisplayName != "" {
		query.Set("displayName", c.opts.DisplayName)
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// Connect dials the gateway and starts the read loop. Fails when a
// connection is already open.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("already connected")
	}

	target, err := c.dialURL()
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.Endpoint, err)
	}
	c.conn = conn

	go c.readLoop(conn)

	if c.handlers.OnOpen != nil {
		c.handlers.OnOpen()
	}
	return nil
}

// Disconnect closes the connection. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}

	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	conn.Close()
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one envelope. Fails fast with ErrNotConnected instead of
// queueing, so the caller can surface the failure and retry after
// reconnection.
func (c *Client) Send(envelope *gateway.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send envelope: %w", err)
	}
	return nil
}

// readLoop delivers inbound envelopes until the connection dies, then
// fires OnClose exactly once for this connection.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if c.handlers.OnClose != nil {
			c.handlers.OnClose()
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
			}
			return
		}

		var envelope gateway.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			log.Warn().Err(err).Msg("discarding malformed envelope")
			if c.handlers.OnError != nil {
				c.handlers.OnError(fmt.Errorf("invalid message payload: %w", err))
			}
			continue
		}

		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(&envelope)
		}
	}
}
