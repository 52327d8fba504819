package protocol

import (
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"
)

// Request actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Frame types.
const (
	TypeUpdate = "update"
)

// Errors
var (
	ErrNoSymbols      = errors.New("no symbols")
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingPrice   = errors.New("record missing price")
)

// Request is an outbound subscribe/unsubscribe request.
type Request struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Wire types for JSON parsing

// envelope is used for fast type extraction.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// recordWire is the wire format of one price record. Every field is optional on
// the wire; price is enforced by the decoder.
type recordWire struct {
	Symbol    string              `json:"symbol"`
	Name      string              `json:"name"`
	Currency  string              `json:"currency"`
	Price     decimal.NullDecimal `json:"price"`
	MarketCap decimal.NullDecimal `json:"market_cap"`
	Volume24h decimal.NullDecimal `json:"volume_24h"`
	Change24h decimal.NullDecimal `json:"change_24h"`
}
