package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rickgao/pricefeed/internal/model"
)

func TestEncodeSubscribe(t *testing.T) {
	data, err := EncodeSubscribe([]model.Symbol{"BTC", "ETH"})
	if err != nil {
		t.Fatalf("EncodeSubscribe() error = %v", err)
	}

	want := `{"action":"subscribe","symbols":["BTC","ETH"]}`
	if string(data) != want {
		t.Errorf("EncodeSubscribe() = %s, want %s", data, want)
	}
}

func TestEncodeUnsubscribe(t *testing.T) {
	data, err := EncodeUnsubscribe([]model.Symbol{"BTC"})
	if err != nil {
		t.Fatalf("EncodeUnsubscribe() error = %v", err)
	}

	want := `{"action":"unsubscribe","symbols":["BTC"]}`
	if string(data) != want {
		t.Errorf("EncodeUnsubscribe() = %s, want %s", data, want)
	}
}

func TestEncode_NoSymbols(t *testing.T) {
	if _, err := EncodeSubscribe(nil); !errors.Is(err, ErrNoSymbols) {
		t.Errorf("EncodeSubscribe(nil) error = %v, want ErrNoSymbols", err)
	}
	if _, err := EncodeUnsubscribe([]model.Symbol{}); !errors.Is(err, ErrNoSymbols) {
		t.Errorf("EncodeUnsubscribe([]) error = %v, want ErrNoSymbols", err)
	}
}

func TestDecodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		action  string
		wantErr bool
	}{
		{"subscribe", `{"action":"subscribe","symbols":["BTC"]}`, ActionSubscribe, false},
		{"unsubscribe", `{"action":"unsubscribe","symbols":["BTC","ETH"]}`, ActionUnsubscribe, false},
		{"unknown action", `{"action":"ping","symbols":[]}`, "", true},
		{"not json", `subscribe BTC`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := DecodeRequest([]byte(tt.input))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Errorf("DecodeRequest() error = %v, want ErrMalformedFrame", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeRequest() error = %v", err)
			}
			if req.Action != tt.action {
				t.Errorf("Action = %q, want %q", req.Action, tt.action)
			}
		})
	}
}

func TestDecode_Update(t *testing.T) {
	input := `{"type":"update","data":{
		"BTC":{"symbol":"BTC","name":"Bitcoin","currency":"USD","price":101.5,"market_cap":2000000,"change_24h":-1.25},
		"eth":{"price":"3000.10"}
	}}`

	frame, err := Decode([]byte(input))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !frame.IsUpdate() {
		t.Fatalf("IsUpdate() = false, want true")
	}
	if len(frame.Updates) != 2 {
		t.Fatalf("len(Updates) = %d, want 2", len(frame.Updates))
	}

	btc := frame.Updates["BTC"]
	if !btc.Price.Equal(decimal.RequireFromString("101.5")) {
		t.Errorf("BTC price = %s, want 101.5", btc.Price)
	}
	if btc.Name != "Bitcoin" || btc.Currency != "USD" {
		t.Errorf("BTC name/currency = %q/%q", btc.Name, btc.Currency)
	}
	if !btc.MarketCap.Valid || !btc.Change24h.Valid {
		t.Errorf("BTC market_cap/change_24h should be present")
	}
	if btc.Volume24h.Valid {
		t.Errorf("BTC volume_24h should be absent")
	}

	eth, ok := frame.Updates["ETH"]
	if !ok {
		t.Fatalf("lower-case key not normalized: %v", frame.Updates)
	}
	if eth.Symbol != "ETH" {
		t.Errorf("ETH symbol = %q", eth.Symbol)
	}
	if !eth.Price.Equal(decimal.RequireFromString("3000.10")) {
		t.Errorf("ETH price = %s", eth.Price)
	}
}

func TestDecode_NullOptionalFieldIsAbsent(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"update","data":{"BTC":{"price":1,"volume_24h":null}}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if frame.Updates["BTC"].Volume24h.Valid {
		t.Errorf("null volume_24h should decode as absent")
	}
}

func TestDecode_OtherTypesIgnored(t *testing.T) {
	for _, input := range []string{
		`{"type":"heartbeat"}`,
		`{"type":"ack","data":{"BTC":{}}}`,
		`{"data":{}}`,
	} {
		frame, err := Decode([]byte(input))
		if err != nil {
			t.Errorf("Decode(%s) error = %v", input, err)
			continue
		}
		if frame.IsUpdate() || frame.Updates != nil {
			t.Errorf("Decode(%s) = %+v, want non-update frame", input, frame)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"not json", `hello`, ErrMalformedFrame},
		{"truncated", `{"type":"update","data":{"BTC":`, ErrMalformedFrame},
		{"data missing", `{"type":"update"}`, ErrMalformedFrame},
		{"data null", `{"type":"update","data":null}`, ErrMalformedFrame},
		{"data array", `{"type":"update","data":[1,2]}`, ErrMalformedFrame},
		{"bad price", `{"type":"update","data":{"BTC":{"price":"abc"}}}`, ErrMalformedFrame},
		{"blank symbol", `{"type":"update","data":{" ":{"price":1}}}`, ErrMalformedFrame},
		{"missing price", `{"type":"update","data":{"BTC":{"price":1},"ETH":{"name":"Ether"}}}`, ErrMissingPrice},
		{"null price", `{"type":"update","data":{"BTC":{"price":null}}}`, ErrMissingPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode([]byte(tt.input))
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
			if frame.Updates != nil {
				t.Errorf("Decode() returned partial updates: %v", frame.Updates)
			}
		})
	}
}

func TestDecode_BlankKeyFallsBackToRecordSymbol(t *testing.T) {
	frame, err := Decode([]byte(`{"type":"update","data":{"":{"symbol":"sol","price":150}}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if _, ok := frame.Updates["SOL"]; !ok {
		t.Errorf("Updates = %v, want SOL", frame.Updates)
	}
}

func TestEncodeUpdate_RoundTrip(t *testing.T) {
	records := map[model.Symbol]model.PriceRecord{
		"BTC": {
			Symbol:    "BTC",
			Currency:  "USD",
			Price:     decimal.RequireFromString("65000.5"),
			Volume24h: decimal.NewNullDecimal(decimal.NewFromInt(123)),
		},
	}

	data, err := EncodeUpdate(records)
	if err != nil {
		t.Fatalf("EncodeUpdate() error = %v", err)
	}

	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("EncodeUpdate() produced invalid JSON: %v", err)
	}
	if string(env["type"]) != `"update"` {
		t.Errorf("type = %s, want \"update\"", env["type"])
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got := frame.Updates["BTC"]
	if !got.Price.Equal(records["BTC"].Price) {
		t.Errorf("price = %s, want %s", got.Price, records["BTC"].Price)
	}
	if !got.Volume24h.Valid || got.MarketCap.Valid {
		t.Errorf("optional fields not preserved: %+v", got)
	}
}
