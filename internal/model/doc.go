// Package model defines shared data types used across the price feed.
//
// Conventions:
//   - Symbols: upper-case tickers, normalized once at the API boundary
//   - Prices: shopspring decimals, never float64
//   - Optional numeric fields: decimal.NullDecimal, Valid=false means unknown (never zero)
//   - Optional text fields: empty string means unknown
package model
