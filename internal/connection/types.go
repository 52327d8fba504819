package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/pricefeed/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("no traffic within ping timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrUnsupportedURL  = errors.New("unsupported url scheme")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// FrameHandler consumes inbound frames. It runs on the session's read
// goroutine and must not block.
type FrameHandler func(data []byte, receivedAt time.Time)

// InterestSource supplies the interest set to send on connect, along with
// the version it was read at.
type InterestSource interface {
	Snapshot() ([]model.Symbol, uint64)
}

// State is the manager's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // ws:// or wss:// endpoint
	Header           http.Header   // Extra handshake headers
	HandshakeTimeout time.Duration // Dial + upgrade deadline
	WriteTimeout     time.Duration // Write deadline for sends
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max silence before the connection is considered stale
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client             ClientConfig  // Per-session client settings; URL is the push endpoint
	ReconnectBaseDelay time.Duration // First retry delay
	ReconnectMaxDelay  time.Duration // Backoff cap
	OutboundBuffer     int           // Initial capacity of the per-session request queue
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:             DefaultClientConfig(),
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  30 * time.Second,
		OutboundBuffer:     16,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State          State
	SessionID      string    // Current session, empty when not connected
	Attempts       int64     // Handshakes attempted
	Failures       int64     // Handshakes failed
	Sessions       int64     // Sessions established
	RequestsSent   int64     // Subscribe/unsubscribe frames written
	SendErrors     int64     // Failed writes
	ConnectedSince time.Time // Zero when not connected
	LastError      string
}
