// Package server exposes the feed's status over HTTP: health, version,
// the latest-price table, current interest, market overview and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/feed"
	"github.com/rickgao/pricefeed/internal/metrics"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/poller"
)

// FeedStatus is the read-only view of the feed client the server needs.
type FeedStatus interface {
	IsConnected() bool
	State() connection.State
	Stats() feed.Stats
	CurrentSnapshot() model.Snapshot
	CurrentInterest() []model.Symbol
}

// OverviewSource provides the latest market overview.
type OverviewSource interface {
	Latest() (poller.Overview, bool)
}

// Config holds server settings.
type Config struct {
	Port        int
	MetricsPath string
}

type Server struct {
	echo      *echo.Echo
	cfg       Config
	feed      FeedStatus
	overview  OverviewSource
	registry  *prometheus.Registry
	logger    *slog.Logger
	startTime time.Time
}

// New builds the server and registers its routes. overview and registry may be nil.
func New(cfg Config, feed FeedStatus, overview OverviewSource, registry *prometheus.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debug("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	s := &Server{
		echo:      e,
		cfg:       cfg,
		feed:      feed,
		overview:  overview,
		registry:  registry,
		logger:    logger.With("component", "server"),
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("starting status server", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/snapshot", s.handleSnapshot)
	s.echo.GET("/interest", s.handleInterest)
	s.echo.GET("/sentiment", s.handleSentiment)
	s.echo.GET("/top", s.handleTop)

	if s.registry != nil {
		s.echo.GET(s.cfg.MetricsPath, echo.WrapHandler(metrics.Handler(s.registry)))
	}
}
