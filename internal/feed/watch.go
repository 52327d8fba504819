package feed

import (
	"sync"

	"github.com/rickgao/pricefeed/internal/dispatch"
	"github.com/rickgao/pricefeed/internal/model"
)

// Watch is one widget's subscription: a listener filtered to its symbols
// plus the interest it holds. Close releases both.
type Watch struct {
	c       *Client
	symbols []model.Symbol
	handle  *dispatch.Handle
	once    sync.Once
}

// Watch registers fn for updates to symbols and declares interest in them.
// fn only sees the watched symbols and is not called for batches that
// contain none of them.
func (c *Client) Watch(symbols []string, fn dispatch.Listener) *Watch {
	syms := model.NormalizeSymbols(symbols)
	wanted := make(map[model.Symbol]struct{}, len(syms))
	for _, s := range syms {
		wanted[s] = struct{}{}
	}

	w := &Watch{c: c, symbols: syms}
	w.handle = c.OnUpdate(func(updates model.Snapshot) {
		for sym := range updates {
			if _, ok := wanted[sym]; !ok {
				delete(updates, sym)
			}
		}
		if len(updates) > 0 {
			fn(updates)
		}
	})
	c.AddInterest(model.Strings(syms)...)
	return w
}

// Symbols returns the watched symbols.
func (w *Watch) Symbols() []model.Symbol {
	return append([]model.Symbol(nil), w.symbols...)
}

// Close deregisters the listener and withdraws the interest. Close waits
// for a callback in progress, so it must not be called from fn itself.
// Safe to call more than once.
func (w *Watch) Close() {
	w.once.Do(func() {
		w.handle.Cancel()
		w.c.RemoveInterest(model.Strings(w.symbols)...)
	})
}
