package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics holds Prometheus metrics for the snapshot REST client.
type APIMetrics struct {
	RequestDuration *prometheus.HistogramVec
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
}

// NewAPIMetrics creates and registers API metrics on the given registry.
func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Snapshot API request latency, by endpoint and result.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "result"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api_cache",
			Name:      "hits_total",
			Help:      "Total number of response cache hits, by endpoint.",
		}, []string{"endpoint"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api_cache",
			Name:      "misses_total",
			Help:      "Total number of response cache misses, by endpoint.",
		}, []string{"endpoint"}),
	}

	reg.MustRegister(m.RequestDuration, m.CacheHits, m.CacheMisses)
	return m
}

// ObserveRequest records one upstream call.
func (m *APIMetrics) ObserveRequest(endpoint string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RequestDuration.WithLabelValues(endpoint, result).Observe(d.Seconds())
}

// CacheLookup counts a cache hit or miss.
func (m *APIMetrics) CacheLookup(endpoint string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(endpoint).Inc()
	} else {
		m.CacheMisses.WithLabelValues(endpoint).Inc()
	}
}
