package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/pricefeed/internal/model"
)

// Frame is a decoded inbound frame. Updates is nil for non-update types.
type Frame struct {
	Type    string
	Updates map[model.Symbol]model.RecordUpdate
}

// IsUpdate reports whether the frame carries price updates.
func (f Frame) IsUpdate() bool {
	return f.Type == TypeUpdate
}

// EncodeSubscribe encodes a subscribe request.
func EncodeSubscribe(symbols []model.Symbol) ([]byte, error) {
	return encode(ActionSubscribe, symbols)
}

// EncodeUnsubscribe encodes an unsubscribe request.
func EncodeUnsubscribe(symbols []model.Symbol) ([]byte, error) {
	return encode(ActionUnsubscribe, symbols)
}

func encode(action string, symbols []model.Symbol) ([]byte, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	return json.Marshal(Request{
		Action:  action,
		Symbols: model.Strings(symbols),
	})
}

// DecodeRequest parses an outbound request. Used by push servers and tests.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if req.Action != ActionSubscribe && req.Action != ActionUnsubscribe {
		return Request{}, fmt.Errorf("%w: unknown action %q", ErrMalformedFrame, req.Action)
	}
	return req, nil
}

// Decode parses an inbound frame.
//
// Frames whose type is not "update" are returned with nil Updates and no error.
// If any record in an update frame is invalid the whole frame is rejected, so a
// partially applied frame can never reach the price table.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if env.Type != TypeUpdate {
		return Frame{Type: env.Type}, nil
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return Frame{}, fmt.Errorf("%w: update without data", ErrMalformedFrame)
	}

	updates, err := DecodeRecords(env.Data)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Type: TypeUpdate, Updates: updates}, nil
}

// DecodeRecords decodes a {"SYM": record, ...} object. It is shared by the push
// decoder and the snapshot client so both feed the table with the same rules.
func DecodeRecords(data []byte) (map[model.Symbol]model.RecordUpdate, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: data is not an object: %v", ErrMalformedFrame, err)
	}

	updates := make(map[model.Symbol]model.RecordUpdate, len(raw))
	for key, body := range raw {
		u, err := decodeRecord(key, body)
		if err != nil {
			return nil, err
		}
		updates[u.Symbol] = u
	}
	return updates, nil
}

func decodeRecord(key string, body json.RawMessage) (model.RecordUpdate, error) {
	var w recordWire
	if err := json.Unmarshal(body, &w); err != nil {
		return model.RecordUpdate{}, fmt.Errorf("%w: record %q: %v", ErrMalformedFrame, key, err)
	}

	sym, ok := model.NormalizeSymbol(key)
	if !ok {
		sym, ok = model.NormalizeSymbol(w.Symbol)
	}
	if !ok {
		return model.RecordUpdate{}, fmt.Errorf("%w: record without symbol", ErrMalformedFrame)
	}

	if !w.Price.Valid {
		return model.RecordUpdate{}, fmt.Errorf("%w: %s", ErrMissingPrice, sym)
	}

	return model.RecordUpdate{
		Symbol:    sym,
		Name:      w.Name,
		Currency:  w.Currency,
		Price:     w.Price.Decimal,
		MarketCap: w.MarketCap,
		Volume24h: w.Volume24h,
		Change24h: w.Change24h,
	}, nil
}

// EncodeUpdate builds an update frame from full records. Used by push servers,
// tests, and the feedtail echo mode.
func EncodeUpdate(records map[model.Symbol]model.PriceRecord) ([]byte, error) {
	data := make(map[string]model.PriceRecord, len(records))
	for sym, rec := range records {
		data[string(sym)] = rec
	}
	return json.Marshal(struct {
		Type string                       `json:"type"`
		Data map[string]model.PriceRecord `json:"data"`
	}{
		Type: TypeUpdate,
		Data: data,
	})
}
