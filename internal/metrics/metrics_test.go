package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFeedMetrics(reg)

	m.ConnectAttempt(true)
	m.ConnectAttempt(false)
	m.ConnectAttempt(false)
	m.Reconnect()
	m.RequestSent("subscribe")
	m.FrameReceived()
	m.FrameReceived()
	m.FrameDropped("missing_price")
	m.FrameIgnored()
	m.RecordsMergedAdd(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconnects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsSent.WithLabelValues("subscribe")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("missing_price")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesIgnored))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsMerged))
}

func TestFeedMetrics_Gauges(t *testing.T) {
	m := NewFeedMetrics(prometheus.NewRegistry())

	m.SetConnectionState(2, true)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionState))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connected))

	m.SetConnectionState(3, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Connected))

	m.SetListeners(4)
	m.SetInterestSymbols(7)
	m.SetDeliveryDepth(1)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Listeners))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.InterestSymbols))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryDepth))
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var f *FeedMetrics
	var a *APIMetrics

	assert.NotPanics(t, func() {
		f.SetConnectionState(1, false)
		f.ConnectAttempt(true)
		f.Reconnect()
		f.RequestSent("subscribe")
		f.FrameReceived()
		f.FrameDropped("malformed")
		f.FrameIgnored()
		f.RecordsMergedAdd(1)
		f.SetListeners(1)
		f.SetInterestSymbols(1)
		f.SetDeliveryDepth(1)
		a.ObserveRequest("market_data", nil, time.Second)
		a.CacheLookup("market_data", true)
	})
}

func TestAPIMetrics(t *testing.T) {
	m := NewAPIMetrics(prometheus.NewRegistry())

	m.CacheLookup("top", true)
	m.CacheLookup("top", false)
	m.CacheLookup("top", false)
	m.ObserveRequest("top", nil, 10*time.Millisecond)
	m.ObserveRequest("top", errors.New("boom"), 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("top")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("top")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDuration))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewFeedMetrics(reg)
	m.FrameReceived()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pricefeed_dispatch_frames_received_total 1"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
