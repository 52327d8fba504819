// Package interest implements the Symbol Interest Registry.
//
// The Registry:
//   - Reference-counts symbols requested by on-screen widgets
//   - Reports net additions/removals of the positive set as a versioned Change
//   - Notifies an observer (the connection manager) under its own lock, so
//     outbound subscribe/unsubscribe requests are queued in change order
package interest
