// Package api provides the REST client for the price backend's market endpoints.
//
// Endpoints:
//   - POST /market/data        latest records for a symbol list
//   - GET  /market/top         ranked top list
//   - GET  /market/fear-greed  sentiment index
//   - GET  /market/list        supported symbols
//
// The client retries transient failures, and can optionally be wrapped with a
// response cache, a client-side rate limit and a circuit breaker.
package api
