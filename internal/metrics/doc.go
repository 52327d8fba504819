// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, attempts and reconnects
//   - Inbound frame rates, drops by reason, merged records
//   - Listener count, interest size and delivery queue depth
//   - Snapshot API latency and cache hit rate
//
// Every method is safe on a nil receiver so components can take metrics as
// an optional dependency.
package metrics
