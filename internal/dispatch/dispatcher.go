package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/pricefeed/internal/buffer"
	"github.com/rickgao/pricefeed/internal/metrics"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/protocol"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records dispatch metrics.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher owns the latest-price table and the listener list.
type Dispatcher struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.FeedMetrics

	// tableMu also orders enqueues, so batches reach listeners in merge order.
	tableMu sync.RWMutex
	table   map[model.Symbol]model.PriceRecord

	listenersMu sync.Mutex
	listeners   []*listenerRecord

	queue *buffer.Queue[batch]

	wg      sync.WaitGroup
	started atomic.Bool

	framesReceived   atomic.Int64
	framesDropped    atomic.Int64
	framesIgnored    atomic.Int64
	recordsMerged    atomic.Int64
	batchesDelivered atomic.Int64
	listenerPanics   atomic.Int64
}

// New creates a Dispatcher. Call Start to begin delivering to listeners.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeliveryBuffer < 1 {
		cfg.DeliveryBuffer = DefaultConfig().DeliveryBuffer
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger,
		table:  make(map[model.Symbol]model.PriceRecord),
		queue:  buffer.New[batch](cfg.DeliveryBuffer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the delivery goroutine. Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return nil
	}

	d.wg.Add(1)
	go d.deliverLoop()

	d.logger.Debug("dispatcher started")
	return nil
}

// Stop stops accepting batches, delivers what is already queued, and waits
// for the delivery goroutine.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Debug("dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timeout", "pending", d.queue.Len())
		return ctx.Err()
	}
}

// HandleFrame decodes one inbound frame and publishes its updates. Runs on
// the connection's read goroutine; it never blocks on listeners.
func (d *Dispatcher) HandleFrame(data []byte, receivedAt time.Time) {
	d.framesReceived.Add(1)
	d.metrics.FrameReceived()

	frame, err := protocol.Decode(data)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrMissingPrice) {
			reason = "missing_price"
		}
		d.framesDropped.Add(1)
		d.metrics.FrameDropped(reason)
		d.logger.Warn("dropping frame", "reason", reason, "error", err, "bytes", len(data))
		return
	}

	if !frame.IsUpdate() {
		d.framesIgnored.Add(1)
		d.metrics.FrameIgnored()
		d.logger.Debug("ignoring frame", "type", frame.Type)
		return
	}

	d.publish(frame.Updates, receivedAt, false)
}

// Apply merges updates into the table and publishes them. Symbols are not
// filtered by interest.
func (d *Dispatcher) Apply(updates map[model.Symbol]model.RecordUpdate) {
	d.publish(updates, time.Now(), false)
}

// Seed merges only the symbols the table does not hold yet, so snapshot data
// never overwrites a pushed value. The seeded records are published.
func (d *Dispatcher) Seed(updates map[model.Symbol]model.RecordUpdate) {
	d.publish(updates, time.Now(), true)
}

func (d *Dispatcher) publish(updates map[model.Symbol]model.RecordUpdate, receivedAt time.Time, onlyAbsent bool) {
	if len(updates) == 0 {
		return
	}

	d.tableMu.Lock()
	merged := make(model.Snapshot, len(updates))
	for sym, u := range updates {
		prev, exists := d.table[sym]
		if onlyAbsent && exists {
			continue
		}
		u.Symbol = sym
		rec := model.Merge(prev, exists, u)
		d.table[sym] = rec
		merged[sym] = rec
	}
	if len(merged) > 0 {
		d.queue.Push(batch{records: merged, receivedAt: receivedAt})
	}
	d.tableMu.Unlock()

	if len(merged) == 0 {
		return
	}
	d.recordsMerged.Add(int64(len(merged)))
	d.metrics.RecordsMergedAdd(len(merged))
	d.metrics.SetDeliveryDepth(d.queue.Len())
}

// OnUpdate registers fn. Listeners are invoked in registration order.
func (d *Dispatcher) OnUpdate(fn Listener) *Handle {
	rec := &listenerRecord{
		id: uuid.New(),
		fn: fn,
	}

	d.listenersMu.Lock()
	d.listeners = append(d.listeners, rec)
	n := len(d.listeners)
	d.listenersMu.Unlock()

	d.metrics.SetListeners(n)
	return &Handle{rec: rec, d: d}
}

func (d *Dispatcher) remove(rec *listenerRecord) {
	d.listenersMu.Lock()
	d.listeners = slices.DeleteFunc(d.listeners, func(r *listenerRecord) bool { return r == rec })
	n := len(d.listeners)
	d.listenersMu.Unlock()

	d.metrics.SetListeners(n)
}

// Get returns the latest record for sym.
func (d *Dispatcher) Get(sym model.Symbol) (model.PriceRecord, bool) {
	d.tableMu.RLock()
	defer d.tableMu.RUnlock()
	rec, ok := d.table[sym]
	return rec, ok
}

// Snapshot returns a copy of the latest-price table.
func (d *Dispatcher) Snapshot() model.Snapshot {
	d.tableMu.RLock()
	defer d.tableMu.RUnlock()
	return model.Snapshot(d.table).Clone()
}

// Reset clears the latest-price table.
func (d *Dispatcher) Reset() {
	d.tableMu.Lock()
	d.table = make(map[model.Symbol]model.PriceRecord)
	d.tableMu.Unlock()
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.tableMu.RLock()
	symbols := len(d.table)
	d.tableMu.RUnlock()

	d.listenersMu.Lock()
	listeners := len(d.listeners)
	d.listenersMu.Unlock()

	return Stats{
		Symbols:          symbols,
		Listeners:        listeners,
		FramesReceived:   d.framesReceived.Load(),
		FramesDropped:    d.framesDropped.Load(),
		FramesIgnored:    d.framesIgnored.Load(),
		RecordsMerged:    d.recordsMerged.Load(),
		BatchesDelivered: d.batchesDelivered.Load(),
		PendingBatches:   d.queue.Len(),
		ListenerPanics:   d.listenerPanics.Load(),
	}
}

// deliverLoop is the single delivery goroutine.
func (d *Dispatcher) deliverLoop() {
	defer d.wg.Done()

	for {
		batches, ok := d.queue.PopBatch(0)
		if !ok {
			return
		}
		for _, b := range batches {
			d.deliver(b)
		}
		d.metrics.SetDeliveryDepth(d.queue.Len())
	}
}

func (d *Dispatcher) deliver(b batch) {
	d.listenersMu.Lock()
	recs := slices.Clone(d.listeners)
	d.listenersMu.Unlock()

	for _, rec := range recs {
		d.invoke(rec, b.records.Clone())
	}
	d.batchesDelivered.Add(1)
}

func (d *Dispatcher) invoke(rec *listenerRecord, updates model.Snapshot) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.cancelled.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.listenerPanics.Add(1)
			d.logger.Error("listener panicked", "listener", rec.id, "panic", r)
		}
	}()

	rec.fn(updates)
}
