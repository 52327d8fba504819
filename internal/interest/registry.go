package interest

import (
	"sync"

	"github.com/rickgao/pricefeed/internal/model"
)

// Change describes how the set of symbols with a positive count changed.
type Change struct {
	Added   []model.Symbol // count went 0 -> 1
	Removed []model.Symbol // count went 1 -> 0
	Version uint64         // registry version after this change
}

// Empty reports whether the positive set did not change.
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Observer receives every non-empty Change. It runs while the registry lock is
// held and must not call back into the Registry.
type Observer func(Change)

// Registry tracks reference counts for wanted symbols.
type Registry struct {
	mu       sync.Mutex
	counts   map[model.Symbol]int
	version  uint64
	observer Observer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		counts: make(map[model.Symbol]int),
	}
}

// SetObserver sets the function notified of set changes.
func (r *Registry) SetObserver(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// Add increments each symbol's count, creating it at 1 if absent.
func (r *Registry) Add(symbols ...model.Symbol) Change {
	if len(symbols) == 0 {
		return Change{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var added []model.Symbol
	for _, sym := range symbols {
		r.counts[sym]++
		if r.counts[sym] == 1 {
			added = append(added, sym)
		}
	}

	return r.commitLocked(Change{Added: added})
}

// Remove decrements each symbol's count, dropping it at 0.
// Symbols that are not present are ignored.
func (r *Registry) Remove(symbols ...model.Symbol) Change {
	if len(symbols) == 0 {
		return Change{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []model.Symbol
	for _, sym := range symbols {
		n, ok := r.counts[sym]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(r.counts, sym)
			removed = append(removed, sym)
			continue
		}
		r.counts[sym] = n - 1
	}

	return r.commitLocked(Change{Removed: removed})
}

// commitLocked bumps the version and notifies the observer. Caller must hold mu.
func (r *Registry) commitLocked(c Change) Change {
	if c.Empty() {
		c.Version = r.version
		return c
	}

	r.version++
	c.Version = r.version

	if r.observer != nil {
		r.observer(c)
	}
	return c
}

// Current returns the sorted set of symbols with a positive count.
func (r *Registry) Current() []model.Symbol {
	symbols, _ := r.Snapshot()
	return symbols
}

// Snapshot returns the current set together with the version it reflects.
func (r *Registry) Snapshot() ([]model.Symbol, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Symbol, 0, len(r.counts))
	for sym := range r.counts {
		out = append(out, sym)
	}
	return model.SortSymbols(out), r.version
}

// Count returns the reference count for sym (0 if absent).
func (r *Registry) Count(sym model.Symbol) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[sym]
}

// Len returns the number of symbols with a positive count.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counts)
}
