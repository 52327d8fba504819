package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/version"
)

type healthResponse struct {
	Status         string    `json:"status"`
	State          string    `json:"state"`
	SessionID      string    `json:"session_id,omitempty"`
	ConnectedSince time.Time `json:"connected_since,omitzero"`
	LastError      string    `json:"last_error,omitempty"`
	Interest       int       `json:"interest"`
	Symbols        int       `json:"symbols"`
	Listeners      int       `json:"listeners"`
	Uptime         float64   `json:"uptime"`
}

// handleHealth reports 200 only while the push channel is connected.
func (s *Server) handleHealth(c echo.Context) error {
	stats := s.feed.Stats()
	resp := healthResponse{
		Status:         "ok",
		State:          s.feed.State().String(),
		SessionID:      stats.Connection.SessionID,
		ConnectedSince: stats.Connection.ConnectedSince,
		LastError:      stats.Connection.LastError,
		Interest:       stats.Interest,
		Symbols:        stats.Dispatch.Symbols,
		Listeners:      stats.Dispatch.Listeners,
		Uptime:         time.Since(s.startTime).Seconds(),
	}

	if !s.feed.IsConnected() {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}

// handleSnapshot returns the latest-price table, optionally filtered with
// ?symbols=BTC,ETH.
func (s *Server) handleSnapshot(c echo.Context) error {
	snap := s.feed.CurrentSnapshot()

	if raw := c.QueryParam("symbols"); raw != "" {
		filtered := make(model.Snapshot)
		for _, sym := range model.NormalizeSymbols(strings.Split(raw, ",")) {
			if rec, ok := snap[sym]; ok {
				filtered[sym] = rec
			}
		}
		snap = filtered
	}

	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(snap),
		"records": snap,
	})
}

func (s *Server) handleInterest(c echo.Context) error {
	symbols := model.Strings(s.feed.CurrentInterest())
	return c.JSON(http.StatusOK, map[string]any{
		"count":   len(symbols),
		"symbols": symbols,
	})
}

func (s *Server) handleSentiment(c echo.Context) error {
	if s.overview == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "overview polling disabled"})
	}
	o, ok := s.overview.Latest()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no data yet"})
	}
	return c.JSON(http.StatusOK, o.Sentiment)
}

func (s *Server) handleTop(c echo.Context) error {
	if s.overview == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "overview polling disabled"})
	}
	o, ok := s.overview.Latest()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "no data yet"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"refreshed_at": o.RefreshedAt,
		"top":          o.Top,
	})
}
