package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/protocol"
)

// DefaultCurrency is used when a call passes an empty currency.
const DefaultCurrency = "USD"

// MaxTopLimit is the largest ranked list the backend serves.
const MaxTopLimit = 500

// ErrInvalidLimit is returned for a top-list limit outside [1, MaxTopLimit].
var ErrInvalidLimit = errors.New("limit must be between 1 and 500")

type cryptoDataRequest struct {
	Symbols  []string `json:"symbols"`
	Currency string   `json:"currency"`
}

type cryptoDataResponse struct {
	Data json.RawMessage `json:"data"`
}

// GetCryptoData fetches the latest records for symbols.
// Records are decoded with the same rules as pushed update frames.
func (c *Client) GetCryptoData(ctx context.Context, symbols []model.Symbol, currency string) (map[model.Symbol]model.RecordUpdate, error) {
	if len(symbols) == 0 {
		return map[model.Symbol]model.RecordUpdate{}, nil
	}
	currency = currencyOrDefault(currency)

	sorted := model.SortSymbols(append([]model.Symbol(nil), symbols...))
	key := "crypto_data:" + strings.Join(model.Strings(sorted), ",") + ":" + currency

	var resp cryptoDataResponse
	req := cryptoDataRequest{Symbols: model.Strings(symbols), Currency: currency}
	if err := c.post(ctx, "crypto_data", key, "/market/data", req, &resp); err != nil {
		return nil, fmt.Errorf("get crypto data: %w", err)
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return map[model.Symbol]model.RecordUpdate{}, nil
	}

	updates, err := protocol.DecodeRecords(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("get crypto data: %w", err)
	}
	return updates, nil
}

// GetTopCryptos fetches the ranked top list.
func (c *Client) GetTopCryptos(ctx context.Context, limit int, currency string) ([]model.TopCrypto, error) {
	if limit < 1 || limit > MaxTopLimit {
		return nil, ErrInvalidLimit
	}
	currency = currencyOrDefault(currency)

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("currency", currency)

	key := "top_cryptos:" + strconv.Itoa(limit) + ":" + currency

	var resp []model.TopCrypto
	if err := c.get(ctx, "top_cryptos", key, "/market/top", query, &resp); err != nil {
		return nil, fmt.Errorf("get top cryptos: %w", err)
	}
	return resp, nil
}

type fearGreedResponse struct {
	Value          *int   `json:"value"`
	Classification string `json:"classification"`
	Timestamp      string `json:"timestamp"`
}

// GetFearGreed fetches the market sentiment index.
// Missing fields fall back to a neutral reading.
func (c *Client) GetFearGreed(ctx context.Context) (model.FearGreed, error) {
	var resp fearGreedResponse
	if err := c.get(ctx, "fear_greed", "fear_greed", "/market/fear-greed", nil, &resp); err != nil {
		return model.FearGreed{}, fmt.Errorf("get fear greed: %w", err)
	}

	fg := model.FearGreed{
		Value:          50,
		Classification: resp.Classification,
		Timestamp:      parseTimestamp(resp.Timestamp),
	}
	if resp.Value != nil {
		fg.Value = *resp.Value
	}
	if fg.Classification == "" {
		fg.Classification = "Neutral"
	}
	return fg, nil
}

// GetCryptoList fetches the symbols supported by the data provider.
func (c *Client) GetCryptoList(ctx context.Context) (model.CryptoList, error) {
	var resp model.CryptoList
	if err := c.get(ctx, "crypto_list", "crypto_list", "/market/list", nil, &resp); err != nil {
		return model.CryptoList{}, fmt.Errorf("get crypto list: %w", err)
	}
	return resp, nil
}

func currencyOrDefault(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return DefaultCurrency
	}
	return currency
}

// The backend emits naive ISO timestamps; those are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
