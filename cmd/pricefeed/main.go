// pricefeed keeps a live price table for a configured set of symbols and
// serves its status over HTTP.
// Usage: go run ./cmd/pricefeed --config configs/pricefeed.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/pricefeed/internal/api"
	"github.com/rickgao/pricefeed/internal/cache"
	"github.com/rickgao/pricefeed/internal/config"
	"github.com/rickgao/pricefeed/internal/feed"
	"github.com/rickgao/pricefeed/internal/logging"
	"github.com/rickgao/pricefeed/internal/metrics"
	"github.com/rickgao/pricefeed/internal/model"
	"github.com/rickgao/pricefeed/internal/poller"
	"github.com/rickgao/pricefeed/internal/server"
	"github.com/rickgao/pricefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults only when empty)")
	envFile := flag.String("env", ".env", "optional .env file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("pricefeed failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadEnv(envFile); err != nil {
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.LoadAndValidate(configPath)
		if err != nil {
			return err
		}
	}

	logger, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	logger = logger.With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting pricefeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	store, closeStore, err := openCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	apiOpts := []api.ClientOption{
		api.WithLogger(logger),
		api.WithAPIKey(cfg.API.APIKey),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithCache(store, cfg.Cache.TTL),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.RateBurst),
		api.WithMetrics(metrics.NewAPIMetrics(reg)),
	}
	if cfg.API.Breaker {
		apiOpts = append(apiOpts, api.WithBreaker("price-api"))
	}
	apiClient := api.NewClient(cfg.API.RestURL, apiOpts...)

	feedCfg := feed.Config{
		URL:                cfg.Feed.URL,
		Currency:           cfg.API.Currency,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		HandshakeTimeout:   cfg.Feed.HandshakeTimeout,
		WriteTimeout:       cfg.Feed.WriteTimeout,
		PingInterval:       cfg.Feed.PingInterval,
		PingTimeout:        cfg.Feed.PingTimeout,
		MessageBuffer:      cfg.Feed.MessageBuffer,
		DeliveryBuffer:     cfg.Feed.DeliveryBuffer,
		SeedTimeout:        cfg.API.Timeout,
	}
	client, err := feed.New(feedCfg,
		feed.WithLogger(logger),
		feed.WithSnapshotSource(apiClient),
		feed.WithMetrics(metrics.NewFeedMetrics(reg)),
	)
	if err != nil {
		return fmt.Errorf("create feed client: %w", err)
	}

	updates := client.OnUpdate(func(snap model.Snapshot) {
		for _, sym := range snap.Symbols() {
			rec := snap[sym]
			logger.Debug("price update", "symbol", sym, "price", rec.Price.String())
		}
	})
	defer updates.Cancel()

	if len(cfg.Watch.Symbols) > 0 {
		w := client.Watch(cfg.Watch.Symbols, func(model.Snapshot) {})
		defer w.Close()
		logger.Info("watching configured symbols", "symbols", model.Strings(w.Symbols()))
	}

	top := newTopWatcher(client, cfg.Watch.TopLimit, logger)
	defer top.Close()

	pl := poller.New(poller.Config{
		Interval:    cfg.Poller.Interval,
		Concurrency: cfg.Poller.Concurrency,
		Timeout:     cfg.Poller.Timeout,
		TopLimit:    cfg.Watch.TopLimit,
		Currency:    cfg.API.Currency,
	}, apiClient, top, logger)

	srv := server.New(server.Config{
		Port:        cfg.Server.Port,
		MetricsPath: cfg.Metrics.Path,
	}, client, pl, reg, logger)

	client.Connect()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		if err := pl.Start(gctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		<-gctx.Done()
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				st := client.Stats()
				logger.Info("stats",
					"state", st.Connection.State.String(),
					"interest", st.Interest,
					"symbols", st.Dispatch.Symbols,
					"frames_received", st.Dispatch.FramesReceived,
					"frames_dropped", st.Dispatch.FramesDropped,
					"sessions", st.Connection.Sessions,
				)
			}
		}
	})

	logger.Info("pricefeed running",
		"feed_url", cfg.Feed.URL,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	// Wait for a signal or a component failure.
	<-gctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown server: %w", err))
	}
	if err := pl.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}
	if err := client.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close feed: %w", err))
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	logger.Info("pricefeed stopped")
	return errors.Join(errs...)
}

// openCache returns Redis when configured, the in-memory cache otherwise.
func openCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (cache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("using in-memory response cache", "ttl", cfg.TTL)
		return cache.NewMemory(clockwork.NewRealClock()), func() {}, nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	r, err := cache.OpenRedis(pingCtx, cfg.RedisURL, cfg.Prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("open redis cache: %w", err)
	}
	logger.Info("using redis response cache", "ttl", cfg.TTL)
	return r, func() {
		if err := r.Close(); err != nil {
			logger.Warn("close redis cache", "error", err)
		}
	}, nil
}
