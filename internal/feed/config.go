package feed

import (
	"time"

	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/dispatch"
)

// DefaultURL is the push endpoint used when none is configured.
const DefaultURL = "http://localhost:8000"

// Config configures a Client.
type Config struct {
	URL                string        // http(s) or ws(s) push endpoint
	Currency           string        // Quote currency for snapshot seeding
	ReconnectBaseDelay time.Duration // First retry delay
	ReconnectMaxDelay  time.Duration // Backoff cap
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	PingInterval       time.Duration
	PingTimeout        time.Duration
	MessageBuffer      int           // Inbound frame channel size
	DeliveryBuffer     int           // Initial listener delivery queue capacity
	SeedTimeout        time.Duration // Per-request timeout when seeding from the snapshot source
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	cc := connection.DefaultClientConfig()
	mc := connection.DefaultManagerConfig()
	return Config{
		URL:                DefaultURL,
		Currency:           "USD",
		ReconnectBaseDelay: mc.ReconnectBaseDelay,
		ReconnectMaxDelay:  mc.ReconnectMaxDelay,
		HandshakeTimeout:   cc.HandshakeTimeout,
		WriteTimeout:       cc.WriteTimeout,
		PingInterval:       cc.PingInterval,
		PingTimeout:        cc.PingTimeout,
		MessageBuffer:      cc.BufferSize,
		DeliveryBuffer:     dispatch.DefaultConfig().DeliveryBuffer,
		SeedTimeout:        10 * time.Second,
	}
}

func (c Config) managerConfig(url string) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.Client = connection.ClientConfig{
		URL:              url,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		PingInterval:     c.PingInterval,
		PingTimeout:      c.PingTimeout,
		BufferSize:       c.MessageBuffer,
	}
	mc.ReconnectBaseDelay = c.ReconnectBaseDelay
	mc.ReconnectMaxDelay = c.ReconnectMaxDelay
	return mc
}
