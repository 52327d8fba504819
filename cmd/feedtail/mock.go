package main

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/protocol"
)

// mockServer is a local push endpoint that random-walks a price per symbol
// and pushes every subscribed symbol on each tick.
type mockServer struct {
	interval time.Duration
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	prices map[model.Symbol]decimal.Decimal
	open   map[model.Symbol]decimal.Decimal
}

func newMockServer(interval time.Duration, logger *slog.Logger) *mockServer {
	return &mockServer{
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		prices:   make(map[model.Symbol]decimal.Decimal),
		open:     make(map[model.Symbol]decimal.Decimal),
	}
}

func (s *mockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("mock upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var (
		subMu      sync.Mutex
		subscribed = make(map[model.Symbol]struct{})
		done       = make(chan struct{})
	)

	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := protocol.DecodeRequest(data)
			if err != nil {
				s.logger.Debug("mock ignored request", "error", err)
				continue
			}
			subMu.Lock()
			for _, sym := range model.NormalizeSymbols(req.Symbols) {
				if req.Action == protocol.ActionSubscribe {
					subscribed[sym] = struct{}{}
				} else {
					delete(subscribed, sym)
				}
			}
			subMu.Unlock()
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			subMu.Lock()
			symbols := make([]model.Symbol, 0, len(subscribed))
			for sym := range subscribed {
				symbols = append(symbols, sym)
			}
			subMu.Unlock()
			if len(symbols) == 0 {
				continue
			}

			frame, err := protocol.EncodeUpdate(s.step(symbols))
			if err != nil {
				s.logger.Warn("mock encode failed", "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

// step moves each symbol's price by up to ±0.5% and returns the new records.
func (s *mockServer) step(symbols []model.Symbol) map[model.Symbol]model.PriceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[model.Symbol]model.PriceRecord, len(symbols))
	for _, sym := range symbols {
		price, ok := s.prices[sym]
		if !ok {
			price = decimal.NewFromInt(int64(10 + rand.IntN(990)))
			s.open[sym] = price
		}
		move := decimal.NewFromFloat(rand.Float64() - 0.5).Div(decimal.NewFromInt(100))
		price = price.Mul(decimal.NewFromInt(1).Add(move)).Round(4)
		s.prices[sym] = price

		change := price.Sub(s.open[sym]).Div(s.open[sym]).Mul(decimal.NewFromInt(100)).Round(2)
		out[sym] = model.PriceRecord{
			Symbol:    sym,
			Currency:  "USD",
			Price:     price,
			Change24h: decimal.NewNullDecimal(change),
		}
	}
	return out
}
