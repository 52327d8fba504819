// feedtail connects to a price push endpoint and prints merged updates to the console.
// Usage: go run ./cmd/feedtail --url http://localhost:8000 --symbols BTC,ETH
//
// With --mock it also starts a local push server producing random-walk prices
// and tails that instead.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/pricefeed/internal/buffer"
	"github.com/rickgao/pricefeed/internal/feed"
	"github.com/rickgao/pricefeed/internal/logging"
	"github.com/rickgao/pricefeed/internal/model"
)

func main() {
	url := flag.String("url", feed.DefaultURL, "push endpoint (http, https, ws or wss)")
	symbols := flag.String("symbols", "BTC,ETH", "comma-separated symbols to watch")
	verbose := flag.Bool("verbose", false, "print full record JSON")
	level := flag.String("log-level", "info", "log level")
	mock := flag.Bool("mock", false, "serve random-walk prices locally and tail them")
	mockInterval := flag.Duration("mock-interval", 500*time.Millisecond, "update interval of the mock server")
	flag.Parse()

	logger, err := logging.New(os.Stderr, *level, "text")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *mock {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			logger.Error("failed to listen for mock server", "error", err)
			os.Exit(1)
		}
		ms := newMockServer(*mockInterval, logger)
		srv := &http.Server{Handler: ms}
		go srv.Serve(ln)
		defer srv.Close()

		*url = "http://" + ln.Addr().String()
		logger.Info("mock push server started", "url", *url)
	}

	cfg := feed.DefaultConfig()
	cfg.URL = *url
	client, err := feed.New(cfg, feed.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create feed client", "error", err)
		os.Exit(1)
	}

	// Listener callbacks only enqueue; printing happens on this goroutine.
	queue := buffer.New[model.Snapshot](64)
	w := client.Watch(strings.Split(*symbols, ","), func(snap model.Snapshot) {
		queue.Push(snap)
	})
	logger.Info("watching", "symbols", model.Strings(w.Symbols()), "url", *url)

	go func() {
		<-ctx.Done()
		queue.Close()
	}()

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := client.Stats()
				qs := queue.Stats()
				logger.Info("stats",
					"state", st.Connection.State.String(),
					"sessions", st.Connection.Sessions,
					"frames_received", st.Dispatch.FramesReceived,
					"frames_dropped", st.Dispatch.FramesDropped,
					"records_merged", st.Dispatch.RecordsMerged,
					"print_queue", qs.Depth,
				)
			}
		}
	}()

	for {
		snap, ok := queue.Pop()
		if !ok {
			break
		}
		printSnapshot(snap, *verbose)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	w.Close()
	if err := client.Close(shutdownCtx); err != nil {
		logger.Warn("close feed", "error", err)
	}
	logger.Info("shutdown complete")
}

func printSnapshot(snap model.Snapshot, verbose bool) {
	for _, sym := range snap.Symbols() {
		rec := snap[sym]
		if verbose {
			data, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Printf("[PRICE] %s\n", data)
			continue
		}
		change := "-"
		if rec.Change24h.Valid {
			change = rec.Change24h.Decimal.StringFixed(2) + "%"
		}
		fmt.Printf("[PRICE] %s %s %s change=%s\n", sym, rec.Price.String(), rec.Currency, change)
	}
}
