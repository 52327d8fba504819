package connection

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket session to the push endpoint.
// A Client is used for one session only; reconnecting creates a new one.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection. Safe to call more than once.
	Close() error

	// Send writes one text frame.
	Send(data []byte) error

	// Messages returns a channel of inbound frames with receive timestamps.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel that receives the error ending the session.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// ClientFactory builds a fresh Client per session.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

type sessionState int

const (
	sessionIdle sessionState = iota
	sessionOpen
	sessionBroken // read side failed; waiting for Close
	sessionClosed
)

// client is a gorilla-backed session. Liveness is enforced by the read
// deadline: every frame, ping or pong from the server pushes it out by
// PingTimeout, and the heartbeat only keeps pongs coming.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	mu    sync.Mutex
	state sessionState
	conn  *websocket.Conn

	writeMu sync.Mutex
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClientConfig()
	if cfg.BufferSize < 1 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect dials the endpoint and starts the session goroutines.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state == sessionClosed {
		return ErrAlreadyClosed
	}

	header := c.cfg.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state == sessionClosed {
		c.mu.Unlock()
		conn.Close()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.state = sessionOpen
	c.mu.Unlock()

	c.watchLiveness(conn)
	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop(conn)
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// Close sends a close frame and tears the connection down.
func (c *client) Close() error {
	c.mu.Lock()
	if c.state == sessionClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = sessionClosed
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn == nil {
		return nil
	}

	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return conn.Close()
}

// Send writes one text frame.
func (c *client) Send(data []byte) error {
	c.mu.Lock()
	if c.state != sessionOpen {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

func (c *client) Errors() <-chan error {
	return c.errors
}

func (c *client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == sessionOpen
}

// watchLiveness installs the control handlers. They run on the read
// goroutine, which is the only one allowed to move the read deadline.
func (c *client) watchLiveness(conn *websocket.Conn) {
	c.extendDeadline(conn)

	conn.SetPingHandler(func(data string) error {
		c.extendDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.extendDeadline(conn)
		return nil
	})
}

func (c *client) extendDeadline(conn *websocket.Conn) {
	if c.cfg.PingTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PingTimeout))
	}
}

// fail records the error ending the session and reports it once, unless
// Close already ran.
func (c *client) fail(err error) {
	c.mu.Lock()
	if c.state == sessionOpen {
		c.state = sessionBroken
	}
	c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.errors <- err:
	default:
	}
}

func (c *client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.logger.Warn("no traffic from server, connection stale", "timeout", c.cfg.PingTimeout)
				err = ErrStaleConnection
			}
			c.fail(err)
			return
		}
		c.extendDeadline(conn)

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}

// heartbeatLoop pings the server so an idle but healthy connection keeps
// producing pongs.
func (c *client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}
		}
	}
}
