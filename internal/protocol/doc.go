// Package protocol implements the subscription wire codec.
//
// Outbound requests:
//
//	{"action": "subscribe",   "symbols": ["BTC", "ETH"]}
//	{"action": "unsubscribe", "symbols": ["BTC"]}
//
// Inbound frames:
//
//	{"type": "update", "data": {"BTC": {"symbol": "BTC", "currency": "USD", "price": 101.5, ...}}}
//
// Frames of any other type are returned without updates so callers can skip
// them. Servers never acknowledge individual requests.
package protocol
