// Package dispatch implements the Message Dispatcher.
//
// The dispatcher decodes inbound frames, merges them field by field into the
// latest-price table, and fans each merged batch out to registered listeners
// on its own delivery goroutine, so a slow listener never stalls the
// connection's read path.
package dispatch
