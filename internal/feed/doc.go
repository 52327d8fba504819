// Package feed is the public surface of the realtime price client.
//
// A Client is constructed explicitly by the host application and shared by
// every widget. Widgets declare interest with AddInterest/RemoveInterest (or
// the Watch helper), receive merged batches through OnUpdate, and read the
// latest values with CurrentSnapshot. One upstream connection serves all of
// them and is restored automatically after a drop.
package feed
