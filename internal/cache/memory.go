package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var _ Cache = (*Memory)(nil)

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero = never
}

// Memory is an in-process Cache. Expired entries are removed lazily on Get
// and by Sweep.
type Memory struct {
	clock clockwork.Clock

	mu    sync.Mutex
	items map[string]memoryItem
}

// NewMemory creates an empty cache. A nil clock means the real clock.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock: clock,
		items: make(map[string]memoryItem),
	}
}

// Get returns a copy of the value for key or ErrCacheMiss.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if m.expired(item) {
		delete(m.items, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), item.value...), nil
}

// Set stores a copy of value with ttl.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, item := range m.items {
		if m.expired(item) {
			delete(m.items, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !m.clock.Now().Before(item.expiresAt)
}
