// Package connection implements the Connection Lifecycle Manager.
//
// The Connection Lifecycle Manager:
//   - Owns the single upstream websocket to the price push endpoint
//   - Runs the Disconnected/Connecting/Connected/Reconnecting state machine
//   - Reconnects forever with capped, jittered exponential backoff
//   - Re-sends the full interest set on every successful connect
//   - Queues subscribe/unsubscribe deltas so callers never block on the network
//   - Hands every inbound frame to a FrameHandler on the read goroutine
package connection
