package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/feed"
	"github.com/rickgao/pricefeed/internal/metrics"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/poller"
)

type mockFeed struct {
	connected bool
	snapshot  model.Snapshot
	interest  []model.Symbol
}

func (m *mockFeed) IsConnected() bool { return m.connected }

func (m *mockFeed) State() connection.State {
	if m.connected {
		return connection.StateConnected
	}
	return connection.StateReconnecting
}

func (m *mockFeed) Stats() feed.Stats {
	st := feed.Stats{Interest: len(m.interest)}
	st.Dispatch.Symbols = len(m.snapshot)
	if m.connected {
		st.Connection.SessionID = "session-1"
	} else {
		st.Connection.LastError = "dial refused"
	}
	return st
}

func (m *mockFeed) CurrentSnapshot() model.Snapshot { return m.snapshot.Clone() }

func (m *mockFeed) CurrentInterest() []model.Symbol { return m.interest }

type mockOverview struct {
	overview poller.Overview
	ok       bool
}

func (m *mockOverview) Latest() (poller.Overview, bool) { return m.overview, m.ok }

func newTestFeed(connected bool) *mockFeed {
	return &mockFeed{
		connected: connected,
		snapshot: model.Snapshot{
			"BTC": {Symbol: "BTC", Price: decimal.NewFromInt(64000)},
			"ETH": {Symbol: "ETH", Price: decimal.NewFromInt(3000)},
		},
		interest: []model.Symbol{"BTC", "ETH"},
	}
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth_Connected(t *testing.T) {
	s := New(Config{}, newTestFeed(true), nil, nil, nil)
	rec := do(t, s, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "connected", body["state"])
	assert.Equal(t, "session-1", body["session_id"])
	assert.EqualValues(t, 2, body["interest"])
}

func TestHandleHealth_Disconnected(t *testing.T) {
	s := New(Config{}, newTestFeed(false), nil, nil, nil)
	rec := do(t, s, "/health")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "reconnecting", body["state"])
	assert.Equal(t, "dial refused", body["last_error"])
}

func TestHandleVersion(t *testing.T) {
	s := New(Config{}, newTestFeed(true), nil, nil, nil)
	rec := do(t, s, "/version")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"go_version"`)
}

type snapshotBody struct {
	Count   int                          `json:"count"`
	Records map[string]model.PriceRecord `json:"records"`
}

func TestHandleSnapshot(t *testing.T) {
	s := New(Config{}, newTestFeed(true), nil, nil, nil)

	rec := do(t, s, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	var all snapshotBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Equal(t, 2, all.Count)
	assert.True(t, all.Records["BTC"].Price.Equal(decimal.NewFromInt(64000)))

	rec = do(t, s, "/snapshot?symbols=eth,DOGE")
	require.Equal(t, http.StatusOK, rec.Code)
	var filtered snapshotBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filtered))
	assert.Equal(t, 1, filtered.Count)
	assert.Contains(t, filtered.Records, "ETH")
}

func TestHandleInterest(t *testing.T) {
	s := New(Config{}, newTestFeed(true), nil, nil, nil)
	rec := do(t, s, "/interest")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2,"symbols":["BTC","ETH"]}`, rec.Body.String())
}

func TestHandleSentiment(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := New(Config{}, newTestFeed(true), nil, nil, nil)
		assert.Equal(t, http.StatusNotFound, do(t, s, "/sentiment").Code)
	})

	t.Run("no data yet", func(t *testing.T) {
		s := New(Config{}, newTestFeed(true), &mockOverview{}, nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "/sentiment").Code)
	})

	t.Run("latest value", func(t *testing.T) {
		ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
		ov := &mockOverview{ok: true, overview: poller.Overview{
			Sentiment: model.FearGreed{Value: 72, Classification: "Greed", Timestamp: ts},
		}}
		s := New(Config{}, newTestFeed(true), ov, nil, nil)
		rec := do(t, s, "/sentiment")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"value":72,"classification":"Greed","timestamp":"2024-05-01T00:00:00Z"}`, rec.Body.String())
	})
}

func TestHandleTop(t *testing.T) {
	ov := &mockOverview{ok: true, overview: poller.Overview{
		Top: []model.TopCrypto{{Rank: 1, PriceRecord: model.PriceRecord{Symbol: "BTC", Price: decimal.NewFromInt(1)}}},
	}}
	s := New(Config{}, newTestFeed(true), ov, nil, nil)
	rec := do(t, s, "/top")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rank":1`)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := metrics.NewRegistry()
	fm := metrics.NewFeedMetrics(reg)
	fm.FrameReceived()

	s := New(Config{MetricsPath: "/internal/metrics"}, newTestFeed(true), nil, reg, nil)
	rec := do(t, s, "/internal/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pricefeed_dispatch_frames_received_total")

	assert.Equal(t, http.StatusNotFound, do(t, s, "/metrics").Code)
}

func TestNoMetricsWithoutRegistry(t *testing.T) {
	s := New(Config{}, newTestFeed(true), nil, nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, s, "/metrics").Code)
}

func TestStartReturnsNilAfterShutdown(t *testing.T) {
	s := New(Config{Port: 0}, newTestFeed(true), nil, nil, nil)

	started := make(chan error, 1)
	go func() { started <- s.Start() }()
	require.Eventually(t, func() bool { return s.echo.ListenerAddr() != nil }, 2*time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.echo.ListenerAddr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-started:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
