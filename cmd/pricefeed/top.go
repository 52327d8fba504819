package main

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/poller"
)

// interestSink is the part of feed.Client the top watcher drives.
type interestSink interface {
	AddInterest(symbols ...string)
	RemoveInterest(symbols ...string)
}

// topWatcher keeps interest registered for the highest-ranked symbols of the
// latest overview. It holds exactly one unit of interest per symbol it tracks.
type topWatcher struct {
	sink   interestSink
	limit  int
	logger *slog.Logger

	mu      sync.Mutex
	current map[model.Symbol]struct{}
	closed  bool
}

func newTopWatcher(sink interestSink, limit int, logger *slog.Logger) *topWatcher {
	return &topWatcher{
		sink:    sink,
		limit:   limit,
		logger:  logger,
		current: make(map[model.Symbol]struct{}),
	}
}

// HandleOverview implements poller.OverviewHandler.
func (w *topWatcher) HandleOverview(o poller.Overview) error {
	if len(o.Top) == 0 {
		return nil
	}

	ranked := append([]model.TopCrypto(nil), o.Top...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })

	want := make(map[model.Symbol]struct{}, w.limit)
	for _, entry := range ranked {
		if len(want) >= w.limit {
			break
		}
		if sym, ok := model.NormalizeSymbol(string(entry.Symbol)); ok {
			want[sym] = struct{}{}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}

	var added, removed []string
	for sym := range want {
		if _, ok := w.current[sym]; !ok {
			added = append(added, string(sym))
		}
	}
	for sym := range w.current {
		if _, ok := want[sym]; !ok {
			removed = append(removed, string(sym))
		}
	}
	if len(added) == 0 && len(removed) == 0 {
		return nil
	}

	sort.Strings(added)
	sort.Strings(removed)
	w.sink.AddInterest(added...)
	w.sink.RemoveInterest(removed...)
	w.current = want

	w.logger.Info("top list changed", "added", added, "removed", removed)
	return nil
}

// Close releases every symbol the watcher holds interest in.
func (w *topWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true

	held := make([]string, 0, len(w.current))
	for sym := range w.current {
		held = append(held, string(sym))
	}
	w.sink.RemoveInterest(held...)
	w.current = nil
}
