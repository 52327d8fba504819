package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/pricefeed/internal/metrics"
	"github.com/rickgao/pricefeed/internal/model"
)

func newStarted(t *testing.T, opts ...Option) *Dispatcher {
	t.Helper()
	d := New(DefaultConfig(), nil, opts...)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		d.Stop(ctx)
	})
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func frame(t *testing.T, format string, args ...any) []byte {
	t.Helper()
	return []byte(fmt.Sprintf(format, args...))
}

// collector records every batch a listener receives.
type collector struct {
	mu      sync.Mutex
	batches []model.Snapshot
}

func (c *collector) listen(u model.Snapshot) {
	c.mu.Lock()
	c.batches = append(c.batches, u)
	c.mu.Unlock()
}

func (c *collector) all() []model.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Snapshot(nil), c.batches...)
}

func (c *collector) waitFor(t *testing.T, n int) []model.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.all()) >= n }, time.Second, time.Millisecond)
	return c.all()
}

func (c *collector) saw(sym model.Symbol) bool {
	for _, b := range c.all() {
		if _, ok := b[sym]; ok {
			return true
		}
	}
	return false
}

func TestHandleFrame_FieldLevelMerge(t *testing.T) {
	d := newStarted(t)

	d.HandleFrame([]byte(`{"type":"update","data":{"BTC":{"symbol":"BTC","currency":"USD","price":100,"change_24h":1.5}}}`), time.Now())
	d.HandleFrame([]byte(`{"type":"update","data":{"BTC":{"price":101}}}`), time.Now())

	rec, ok := d.Get("BTC")
	require.True(t, ok)
	assert.True(t, rec.Price.Equal(dec("101")), "price = %s", rec.Price)
	require.True(t, rec.Change24h.Valid, "change_24h must be preserved")
	assert.True(t, rec.Change24h.Decimal.Equal(dec("1.5")))
	assert.Equal(t, "USD", rec.Currency)
	assert.False(t, rec.Volume24h.Valid, "absent field must stay absent, not zero")
}

func TestHandleFrame_MalformedDoesNotCorruptTable(t *testing.T) {
	d := newStarted(t)
	c := &collector{}
	d.OnUpdate(c.listen)

	d.HandleFrame([]byte(`{"type":"update","data":{"BTC":{"price":100}}}`), time.Now())
	d.HandleFrame([]byte(`{"type":"update","data":{"BTC":{"price":999},"ETH":{"name":"Ether"}}}`), time.Now())
	d.HandleFrame([]byte(`not json at all`), time.Now())
	d.HandleFrame([]byte(`{"type":"update","data":{"ETH":{"price":3000}}}`), time.Now())

	btc, _ := d.Get("BTC")
	assert.True(t, btc.Price.Equal(dec("100")), "partial frame must not be applied")

	eth, ok := d.Get("ETH")
	require.True(t, ok, "valid frame after malformed ones must still be processed")
	assert.True(t, eth.Price.Equal(dec("3000")))

	batches := c.waitFor(t, 2)
	assert.Len(t, batches, 2)

	stats := d.Stats()
	assert.Equal(t, int64(4), stats.FramesReceived)
	assert.Equal(t, int64(2), stats.FramesDropped)
}

func TestHandleFrame_OtherTypesIgnored(t *testing.T) {
	d := newStarted(t)

	d.HandleFrame([]byte(`{"type":"heartbeat","data":{"BTC":{"price":1}}}`), time.Now())

	_, ok := d.Get("BTC")
	assert.False(t, ok)
	assert.Equal(t, int64(1), d.Stats().FramesIgnored)
}

func TestHandleFrame_UnknownSymbolsAccepted(t *testing.T) {
	d := newStarted(t)
	c := &collector{}
	d.OnUpdate(c.listen)

	// no interest filtering happens here
	d.HandleFrame([]byte(`{"type":"update","data":{"DOGE":{"price":0.1}}}`), time.Now())

	_, ok := d.Get("DOGE")
	assert.True(t, ok)
	batches := c.waitFor(t, 1)
	assert.Contains(t, batches[0], model.Symbol("DOGE"))
}

func TestOnUpdate_RegistrationOrder(t *testing.T) {
	d := newStarted(t)

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 5; i++ {
		i := i
		d.OnUpdate(func(model.Snapshot) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestOnUpdate_PerSymbolOrderPreserved(t *testing.T) {
	d := newStarted(t)
	c := &collector{}
	d.OnUpdate(c.listen)

	const n = 200
	for i := 1; i <= n; i++ {
		d.HandleFrame(frame(t, `{"type":"update","data":{"BTC":{"price":%d}}}`, i), time.Now())
	}

	batches := c.waitFor(t, n)
	for i, b := range batches {
		want := decimal.NewFromInt(int64(i + 1))
		assert.True(t, b["BTC"].Price.Equal(want), "batch %d price = %s", i, b["BTC"].Price)
	}
}

func TestOnUpdate_EachListenerGetsOwnCopy(t *testing.T) {
	d := newStarted(t)

	d.OnUpdate(func(u model.Snapshot) {
		delete(u, "BTC")
	})
	c := &collector{}
	d.OnUpdate(c.listen)

	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})

	batches := c.waitFor(t, 1)
	assert.Contains(t, batches[0], model.Symbol("BTC"))
}

func TestOnUpdate_SlowListenerDoesNotBlockReadPath(t *testing.T) {
	d := newStarted(t)

	release := make(chan struct{})
	d.OnUpdate(func(model.Snapshot) { <-release })
	defer close(release)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.HandleFrame(frame(t, `{"type":"update","data":{"BTC":{"price":%d}}}`, i+1), time.Now())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleFrame blocked behind a slow listener")
	}

	rec, _ := d.Get("BTC")
	assert.True(t, rec.Price.Equal(dec("1000")), "table is current even while delivery lags")
}

func TestHandle_CancelIsIdempotent(t *testing.T) {
	d := newStarted(t)
	c := &collector{}
	h := d.OnUpdate(c.listen)
	other := d.OnUpdate(func(model.Snapshot) {})

	assert.Equal(t, 2, d.Stats().Listeners)
	h.Cancel()
	h.Cancel()
	assert.True(t, h.Cancelled())
	assert.Equal(t, 1, d.Stats().Listeners, "second cancel must not remove another listener")
	assert.False(t, other.Cancelled())
	assert.NotEqual(t, h.ID(), other.ID())
}

func TestHandle_NoDeliveryAfterCancelReturns(t *testing.T) {
	d := newStarted(t)

	for round := 0; round < 50; round++ {
		cancelled := &collector{}
		h := d.OnUpdate(cancelled.listen)
		sentinel := &collector{}
		hs := d.OnUpdate(sentinel.listen)

		d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})
		h.Cancel()
		d.Apply(map[model.Symbol]model.RecordUpdate{"ETH": {Price: dec("2")}})

		require.Eventually(t, func() bool { return sentinel.saw("ETH") }, time.Second, time.Millisecond)
		assert.False(t, cancelled.saw("ETH"), "round %d: listener ran after Cancel returned", round)
		hs.Cancel()
	}
}

func TestHandle_CancelWaitsForRunningCallback(t *testing.T) {
	d := newStarted(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	h := d.OnUpdate(func(model.Snapshot) {
		close(entered)
		<-release
		finished.Store(true)
	})

	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})
	<-entered

	cancelReturned := make(chan bool, 1)
	go func() {
		h.Cancel()
		cancelReturned <- finished.Load()
	}()

	select {
	case <-cancelReturned:
		t.Fatal("Cancel returned while the callback was still running")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, h.Cancelled())

	close(release)
	select {
	case done := <-cancelReturned:
		assert.True(t, done, "callback side effect must happen before Cancel returns")
	case <-time.After(time.Second):
		t.Fatal("Cancel did not return after the callback finished")
	}
}

func TestHandle_CancelFromInsideListener(t *testing.T) {
	d := newStarted(t)

	var (
		calls atomic.Int32
		h     *Handle
	)
	h = d.OnUpdate(func(model.Snapshot) {
		calls.Add(1)
		h.CancelFromListener()
	})

	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("2")}})
	require.Eventually(t, func() bool { return d.Stats().BatchesDelivered == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestListenerPanicIsContained(t *testing.T) {
	d := newStarted(t)

	d.OnUpdate(func(model.Snapshot) { panic("widget bug") })
	c := &collector{}
	d.OnUpdate(c.listen)

	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})
	d.Apply(map[model.Symbol]model.RecordUpdate{"ETH": {Price: dec("1")}})

	c.waitFor(t, 2)
	assert.Equal(t, int64(2), d.Stats().ListenerPanics)
}

func TestSeed_NeverOverwritesPushedValue(t *testing.T) {
	d := newStarted(t)
	c := &collector{}
	d.OnUpdate(c.listen)

	d.HandleFrame([]byte(`{"type":"update","data":{"BTC":{"price":101}}}`), time.Now())
	d.Seed(map[model.Symbol]model.RecordUpdate{
		"BTC": {Price: dec("99"), Name: "Bitcoin"},
		"ETH": {Price: dec("3000"), Name: "Ethereum"},
	})

	btc, _ := d.Get("BTC")
	assert.True(t, btc.Price.Equal(dec("101")))
	assert.Empty(t, btc.Name)

	eth, ok := d.Get("ETH")
	require.True(t, ok)
	assert.Equal(t, "Ethereum", eth.Name)

	batches := c.waitFor(t, 2)
	assert.NotContains(t, batches[1], model.Symbol("BTC"))
	assert.Contains(t, batches[1], model.Symbol("ETH"))
}

func TestSeed_AllPresentPublishesNothing(t *testing.T) {
	d := newStarted(t)
	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})
	d.Seed(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("2")}})

	require.Eventually(t, func() bool { return d.Stats().PendingBatches == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, int64(1), d.Stats().RecordsMerged)
}

func TestSnapshotIsCopy(t *testing.T) {
	d := newStarted(t)
	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})

	snap := d.Snapshot()
	delete(snap, "BTC")

	_, ok := d.Get("BTC")
	assert.True(t, ok)

	d.Reset()
	assert.Empty(t, d.Snapshot())
}

func TestStopDeliversQueuedBatches(t *testing.T) {
	d := New(DefaultConfig(), nil)
	c := &collector{}
	d.OnUpdate(c.listen)

	// queued before the delivery goroutine runs
	d.Apply(map[model.Symbol]model.RecordUpdate{"BTC": {Price: dec("1")}})
	d.Apply(map[model.Symbol]model.RecordUpdate{"ETH": {Price: dec("1")}})

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Stop(context.Background()))
	assert.Len(t, c.all(), 2)
}

func TestDispatcherMetrics(t *testing.T) {
	m := metrics.NewFeedMetrics(prometheus.NewRegistry())
	d := newStarted(t, WithMetrics(m))
	h := d.OnUpdate(func(model.Snapshot) {})

	d.HandleFrame([]byte(`{"type":"update","data":{"BTC":{"price":1},"ETH":{"price":2}}}`), time.Now())
	d.HandleFrame([]byte(`{"type":"update","data":{"BTC":{}}}`), time.Now())
	d.HandleFrame([]byte(`{"type":"pong"}`), time.Now())

	assert.Equal(t, 3.0, testutil.ToFloat64(m.FramesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("missing_price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesIgnored))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsMerged))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Listeners))

	h.Cancel()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Listeners))
}
