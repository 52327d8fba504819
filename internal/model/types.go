package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Symbol identifies an instrument (e.g. "BTC"). Identity is exact string equality.
type Symbol string

// NormalizeSymbol trims and upper-cases s. Returns false for an empty result.
func NormalizeSymbol(s string) (Symbol, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", false
	}
	return Symbol(s), true
}

// NormalizeSymbols normalizes and de-duplicates symbols, keeping first-seen order.
func NormalizeSymbols(symbols []string) []Symbol {
	if len(symbols) == 0 {
		return nil
	}

	seen := make(map[Symbol]struct{}, len(symbols))
	result := make([]Symbol, 0, len(symbols))
	for _, raw := range symbols {
		sym, ok := NormalizeSymbol(raw)
		if !ok {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		result = append(result, sym)
	}
	return result
}

// Strings converts symbols to plain strings (wire order preserved).
func Strings(symbols []Symbol) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = string(s)
	}
	return out
}

// SortSymbols sorts symbols in place and returns them.
func SortSymbols(symbols []Symbol) []Symbol {
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })
	return symbols
}

// -----------------------------------------------------------------------------
// Price Types
// -----------------------------------------------------------------------------

// PriceRecord is the latest known value for one symbol.
// Price is always set once a record exists in the latest-price table.
type PriceRecord struct {
	Symbol    Symbol              `json:"symbol"`
	Name      string              `json:"name,omitempty"`
	Currency  string              `json:"currency,omitempty"`
	Price     decimal.Decimal     `json:"price"`
	MarketCap decimal.NullDecimal `json:"market_cap"`
	Volume24h decimal.NullDecimal `json:"volume_24h"`
	Change24h decimal.NullDecimal `json:"change_24h"`
}

// RecordUpdate is a partial record carried by one update frame or snapshot response.
// Only the fields it carries are authoritative; see Merge.
type RecordUpdate struct {
	Symbol    Symbol
	Name      string // "" = absent
	Currency  string // "" = absent
	Price     decimal.Decimal
	MarketCap decimal.NullDecimal
	Volume24h decimal.NullDecimal
	Change24h decimal.NullDecimal
}

// Snapshot is a copy of the latest-price table keyed by symbol.
type Snapshot map[Symbol]PriceRecord

// Clone returns an independent copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Symbols returns the snapshot's symbols in sorted order.
func (s Snapshot) Symbols() []Symbol {
	out := make([]Symbol, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return SortSymbols(out)
}

// -----------------------------------------------------------------------------
// Market Overview Types
// -----------------------------------------------------------------------------

// FearGreed is the market sentiment index shown next to the price widgets.
type FearGreed struct {
	Value          int       `json:"value"`          // 0-100
	Classification string    `json:"classification"` // "Extreme Fear" ... "Extreme Greed"
	Timestamp      time.Time `json:"timestamp"`
}

// TopCrypto is one row of the ranked top list.
type TopCrypto struct {
	Rank int `json:"rank"`
	PriceRecord
}

// CryptoList holds the symbols supported by the upstream data provider.
type CryptoList struct {
	Symbols []string `json:"symbols"`
}
