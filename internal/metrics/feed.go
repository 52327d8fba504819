package metrics

import "github.com/prometheus/client_golang/prometheus"

// FeedMetrics holds Prometheus metrics for the push connection and dispatcher.
type FeedMetrics struct {
	ConnectionState prometheus.Gauge
	Connected       prometheus.Gauge
	ConnectAttempts *prometheus.CounterVec
	Reconnects      prometheus.Counter
	RequestsSent    *prometheus.CounterVec
	FramesReceived  prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	FramesIgnored   prometheus.Counter
	RecordsMerged   prometheus.Counter
	Listeners       prometheus.Gauge
	InterestSymbols prometheus.Gauge
	DeliveryDepth   prometheus.Gauge
}

// NewFeedMetrics creates and registers feed metrics on the given registry.
func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	m := &FeedMetrics{
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting).",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "up",
			Help:      "1 while the push connection is established.",
		}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "attempts_total",
			Help:      "Total number of connection attempts, by result.",
		}, []string{"result"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "reconnects_total",
			Help:      "Total number of times an established session was lost.",
		}),
		RequestsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "requests_sent_total",
			Help:      "Total number of subscription requests written, by action.",
		}, []string{"action"}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "frames_received_total",
			Help:      "Total number of inbound frames read from the connection.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "frames_dropped_total",
			Help:      "Total number of inbound frames dropped, by reason.",
		}, []string{"reason"}),
		FramesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "frames_ignored_total",
			Help:      "Total number of well-formed frames of an unhandled type.",
		}),
		RecordsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "records_merged_total",
			Help:      "Total number of price records merged into the latest-price table.",
		}),
		Listeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "listeners",
			Help:      "Number of registered update listeners.",
		}),
		InterestSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "interest",
			Name:      "symbols",
			Help:      "Number of symbols with positive interest.",
		}),
		DeliveryDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "delivery_queue_depth",
			Help:      "Update batches waiting for listener delivery.",
		}),
	}

	reg.MustRegister(
		m.ConnectionState, m.Connected, m.ConnectAttempts, m.Reconnects, m.RequestsSent,
		m.FramesReceived, m.FramesDropped, m.FramesIgnored, m.RecordsMerged,
		m.Listeners, m.InterestSymbols, m.DeliveryDepth,
	)
	return m
}

// SetConnectionState records the state ordinal and whether it counts as connected.
func (m *FeedMetrics) SetConnectionState(state int, connected bool) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// ConnectAttempt counts a handshake by outcome.
func (m *FeedMetrics) ConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// Reconnect counts a lost session.
func (m *FeedMetrics) Reconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RequestSent counts a written subscribe or unsubscribe request.
func (m *FeedMetrics) RequestSent(action string) {
	if m == nil {
		return
	}
	m.RequestsSent.WithLabelValues(action).Inc()
}

// FrameReceived counts an inbound frame.
func (m *FeedMetrics) FrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

// FrameDropped counts a frame discarded before merge.
func (m *FeedMetrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// FrameIgnored counts a frame of an unhandled type.
func (m *FeedMetrics) FrameIgnored() {
	if m == nil {
		return
	}
	m.FramesIgnored.Inc()
}

// RecordsMergedAdd adds n merged records.
func (m *FeedMetrics) RecordsMergedAdd(n int) {
	if m == nil {
		return
	}
	m.RecordsMerged.Add(float64(n))
}

// SetListeners records the listener count.
func (m *FeedMetrics) SetListeners(n int) {
	if m == nil {
		return
	}
	m.Listeners.Set(float64(n))
}

// SetInterestSymbols records the interest set size.
func (m *FeedMetrics) SetInterestSymbols(n int) {
	if m == nil {
		return
	}
	m.InterestSymbols.Set(float64(n))
}

// SetDeliveryDepth records the pending delivery batches.
func (m *FeedMetrics) SetDeliveryDepth(n int) {
	if m == nil {
		return
	}
	m.DeliveryDepth.Set(float64(n))
}
