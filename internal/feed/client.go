package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/dispatch"
	"github.com/rickgao/pricefeed/internal/interest"
	"github.com/rickgao/pricefeed/internal/metrics"
	"github.com/rickgao/pricefeed/internal/model"
)

// ErrClosed is returned by operations on a closed Client.
var ErrClosed = errors.New("feed client closed")

// SnapshotSource fetches current records over request/response. Used to
// seed the table before the push connection delivers its first frame.
type SnapshotSource interface {
	GetCryptoData(ctx context.Context, symbols []model.Symbol, currency string) (map[model.Symbol]model.RecordUpdate, error)
}

// Option configures a Client.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	source   SnapshotSource
	metrics  *metrics.FeedMetrics
	connOpts []connection.Option
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSnapshotSource seeds newly wanted symbols from src.
func WithSnapshotSource(src SnapshotSource) Option {
	return func(o *options) { o.source = src }
}

// WithMetrics records feed metrics.
func WithMetrics(m *metrics.FeedMetrics) Option {
	return func(o *options) {
		o.metrics = m
		o.connOpts = append(o.connOpts, connection.WithMetrics(m))
	}
}

// WithClientFactory replaces the websocket client constructor.
func WithClientFactory(f connection.ClientFactory) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, connection.WithClientFactory(f)) }
}

// WithClock sets the clock used for reconnect backoff.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, connection.WithClock(c)) }
}

// WithStateHook observes connection state transitions.
func WithStateHook(fn func(from, to connection.State)) Option {
	return func(o *options) { o.connOpts = append(o.connOpts, connection.WithStateHook(fn)) }
}

// Stats aggregates component statistics.
type Stats struct {
	Connection connection.ManagerStats
	Dispatch   dispatch.Stats
	Interest   int
}

// Client is the realtime price client. One instance per application session.
type Client struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.FeedMetrics
	source  SnapshotSource

	registry   *interest.Registry
	dispatcher *dispatch.Dispatcher
	manager    connection.Manager

	// seedCtx is cancelled by Close to abandon in-flight seeds.
	seedCtx    context.Context
	seedCancel context.CancelFunc
	seedWG     sync.WaitGroup

	mu           sync.Mutex
	manualClosed bool // Disconnect was called; AddInterest does not reconnect
	closed       bool
}

// New creates a Client. Nothing connects until Connect or the first AddInterest.
func New(cfg Config, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}

	url, err := connection.NormalizeURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		logger:   o.logger,
		metrics:  o.metrics,
		source:   o.source,
		registry: interest.NewRegistry(),
	}
	c.seedCtx, c.seedCancel = context.WithCancel(context.Background())

	c.dispatcher = dispatch.New(
		dispatch.Config{DeliveryBuffer: cfg.DeliveryBuffer},
		o.logger.With("component", "dispatch"),
		dispatch.WithMetrics(o.metrics),
	)
	c.manager = connection.NewManager(
		cfg.managerConfig(url),
		c.registry,
		c.dispatcher.HandleFrame,
		o.logger.With("component", "connection"),
		o.connOpts...,
	)
	c.registry.SetObserver(c.manager.ApplyChange)

	if err := c.dispatcher.Start(c.seedCtx); err != nil {
		return nil, fmt.Errorf("start dispatcher: %w", err)
	}
	return c, nil
}

// Connect opens the upstream connection. No-op if already connecting or connected.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.manualClosed = false
	c.mu.Unlock()

	c.manager.Connect()
}

// Disconnect closes the upstream connection and stops reconnecting until
// Connect is called again. Interest, listeners and the table are kept.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.manualClosed = true
	c.mu.Unlock()

	return c.manager.Disconnect(ctx)
}

// AddInterest declares interest in symbols. Symbols are normalized; empty
// input is a no-op. Connects automatically unless Disconnect was called.
func (c *Client) AddInterest(symbols ...string) {
	syms := model.NormalizeSymbols(symbols)
	if len(syms) == 0 {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	autoConnect := !c.manualClosed
	c.mu.Unlock()

	change := c.registry.Add(syms...)
	c.metrics.SetInterestSymbols(c.registry.Len())

	if autoConnect {
		c.manager.Connect()
	}
	if len(change.Added) > 0 {
		c.seedAsync(change.Added)
	}
}

// RemoveInterest withdraws interest. Symbols never added are ignored.
func (c *Client) RemoveInterest(symbols ...string) {
	syms := model.NormalizeSymbols(symbols)
	if len(syms) == 0 {
		return
	}

	c.registry.Remove(syms...)
	c.metrics.SetInterestSymbols(c.registry.Len())
}

// CurrentInterest returns the sorted set of wanted symbols.
func (c *Client) CurrentInterest() []model.Symbol {
	return c.registry.Current()
}

// OnUpdate registers a listener for every merged batch.
func (c *Client) OnUpdate(fn dispatch.Listener) *dispatch.Handle {
	return c.dispatcher.OnUpdate(fn)
}

// IsConnected reports whether the upstream session is established.
func (c *Client) IsConnected() bool {
	return c.manager.IsConnected()
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// CurrentSnapshot returns a copy of the latest-price table.
func (c *Client) CurrentSnapshot() model.Snapshot {
	return c.dispatcher.Snapshot()
}

// Stats returns component statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Connection: c.manager.Stats(),
		Dispatch:   c.dispatcher.Stats(),
		Interest:   c.registry.Len(),
	}
}

// Prefetch synchronously seeds the table for symbols from the snapshot source.
func (c *Client) Prefetch(ctx context.Context, symbols ...string) error {
	syms := model.NormalizeSymbols(symbols)
	if len(syms) == 0 || c.source == nil {
		return nil
	}
	return c.seed(ctx, syms)
}

// Close shuts the client down: the connection is closed, pending seeds are
// abandoned, queued batches are delivered, and the table is cleared.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.manualClosed = true
	c.mu.Unlock()

	c.seedCancel()
	err := c.manager.Disconnect(ctx)

	done := make(chan struct{})
	go func() {
		c.seedWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	err = errors.Join(err, c.dispatcher.Stop(ctx))
	c.dispatcher.Reset()

	c.logger.Info("feed client closed")
	return err
}

func (c *Client) seedAsync(symbols []model.Symbol) {
	if c.source == nil {
		return
	}

	// Add under mu so Close never waits on a group that is still growing.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.seedWG.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.seedWG.Done()

		ctx := c.seedCtx
		if c.cfg.SeedTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.cfg.SeedTimeout)
			defer cancel()
		}
		if err := c.seed(ctx, symbols); err != nil && c.seedCtx.Err() == nil {
			c.logger.Warn("snapshot seed failed", "symbols", len(symbols), "error", err)
		}
	}()
}

func (c *Client) seed(ctx context.Context, symbols []model.Symbol) error {
	updates, err := c.source.GetCryptoData(ctx, symbols, c.cfg.Currency)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	c.dispatcher.Seed(updates)
	c.logger.Debug("seeded from snapshot", "requested", len(symbols), "received", len(updates))
	return nil
}
