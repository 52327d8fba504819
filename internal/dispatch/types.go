package dispatch

import (
	"time"

	"github.com/rickgao/pricefeed/internal/model"
)

// Listener receives one merged batch per inbound update. The map is owned by
// the listener.
type Listener func(updates model.Snapshot)

// Config holds configuration for the Dispatcher.
type Config struct {
	DeliveryBuffer int // Initial capacity of the delivery queue. Default: 256
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		DeliveryBuffer: 256,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Symbols          int
	Listeners        int
	FramesReceived   int64
	FramesDropped    int64
	FramesIgnored    int64
	RecordsMerged    int64
	BatchesDelivered int64
	PendingBatches   int
	ListenerPanics   int64
}

// batch is one merged update waiting for delivery.
type batch struct {
	records    model.Snapshot
	receivedAt time.Time
}
