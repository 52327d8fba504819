// Package poller implements the market overview poller.
//
// The poller:
//   - Refreshes the fear and greed index and the ranked top list on an interval
//   - Runs the fetches concurrently with a bounded number in flight
//   - Keeps the last good value of each part when one fetch fails
//   - Hands every refreshed Overview to a Handler
package poller
