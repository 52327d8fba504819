package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// listenerRecord is one registration. mu is held by the delivery goroutine
// for the whole callback, so Cancel can wait out a call in progress.
type listenerRecord struct {
	id        uuid.UUID
	fn        Listener
	mu        sync.Mutex
	cancelled atomic.Bool
}

// Handle is the cancellation token returned by OnUpdate.
type Handle struct {
	rec *listenerRecord
	d   *Dispatcher
}

// ID returns the registration's unique id.
func (h *Handle) ID() uuid.UUID {
	return h.rec.id
}

// Cancel deregisters the listener. If the listener is running on the
// delivery goroutine, Cancel blocks until that call returns, so no callback
// runs after Cancel returns. Calling Cancel more than once is safe.
//
// A listener must not Cancel its own handle; use CancelFromListener.
func (h *Handle) Cancel() {
	if !h.deregister() {
		return
	}
	rec := h.rec
	rec.mu.Lock()
	rec.mu.Unlock()
}

// CancelFromListener deregisters the listener from inside its own callback.
// It does not wait: the current call finishes and no later call begins.
// Called from anywhere else it gives no guarantee about a call in progress.
func (h *Handle) CancelFromListener() {
	h.deregister()
}

func (h *Handle) deregister() bool {
	if !h.rec.cancelled.CompareAndSwap(false, true) {
		return false
	}
	h.d.remove(h.rec)
	return true
}

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool {
	return h.rec.cancelled.Load()
}
