package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/pricefeed/internal/model"
)

// Source provides the market overview endpoints. *api.Client implements it.
type Source interface {
	GetFearGreed(ctx context.Context) (model.FearGreed, error)
	GetTopCryptos(ctx context.Context, limit int, currency string) ([]model.TopCrypto, error)
}

// Overview is the latest market overview.
type Overview struct {
	Sentiment   model.FearGreed
	Top         []model.TopCrypto
	RefreshedAt time.Time
}

// OverviewHandler receives refreshed overviews.
type OverviewHandler interface {
	HandleOverview(overview Overview) error
}

// OverviewHandlerFunc is a function adapter for OverviewHandler.
type OverviewHandlerFunc func(Overview) error

func (f OverviewHandlerFunc) HandleOverview(o Overview) error {
	return f(o)
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 60s)
	Concurrency int           // Max concurrent requests (default: 2)
	Timeout     time.Duration // Per-request timeout (default: 10s)
	TopLimit    int           // Size of the ranked list (default: 100)
	Currency    string        // Quote currency (default: USD)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		Concurrency: 2,
		Timeout:     10 * time.Second,
		TopLimit:    100,
		Currency:    "USD",
	}
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock driving the poll interval.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// Poller periodically refreshes the market overview via the REST API.
type Poller struct {
	cfg     Config
	source  Source
	handler OverviewHandler
	logger  *slog.Logger
	clock   clockwork.Clock

	mu     sync.RWMutex
	latest Overview
	have   bool

	cycles atomic.Int64
	errors atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. handler may be nil.
func New(cfg Config, source Source, handler OverviewHandler, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.TopLimit <= 0 {
		cfg.TopLimit = def.TopLimit
	}
	if cfg.Currency == "" {
		cfg.Currency = def.Currency
	}

	p := &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger.With("component", "poller"),
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("overview poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("overview poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Latest returns the most recent overview. ok is false before the first
// cycle that fetched anything.
func (p *Poller) Latest() (Overview, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	o := p.latest
	o.Top = append([]model.TopCrypto(nil), o.Top...)
	return o, p.have
}

// Stats reports completed cycles and failed fetches.
func (p *Poller) Stats() (cycles, errors int64) {
	return p.cycles.Load(), p.errors.Load()
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.pollAll()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.Chan():
			p.pollAll()
		}
	}
}

// pollAll refreshes every overview part concurrently.
func (p *Poller) pollAll() {
	start := p.clock.Now()

	var (
		g         errgroup.Group
		sentiment model.FearGreed
		top       []model.TopCrypto
		gotFG     bool
		gotTop    bool
		failed    atomic.Int64
	)
	g.SetLimit(p.cfg.Concurrency)

	g.Go(func() error {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
		defer cancel()

		fg, err := p.source.GetFearGreed(ctx)
		if err != nil {
			p.logger.Warn("failed to refresh sentiment", "err", err)
			failed.Add(1)
			return nil
		}
		sentiment, gotFG = fg, true
		return nil
	})

	g.Go(func() error {
		ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
		defer cancel()

		list, err := p.source.GetTopCryptos(ctx, p.cfg.TopLimit, p.cfg.Currency)
		if err != nil {
			p.logger.Warn("failed to refresh top list", "err", err)
			failed.Add(1)
			return nil
		}
		top, gotTop = list, true
		return nil
	})

	_ = g.Wait()

	p.cycles.Add(1)
	p.errors.Add(failed.Load())

	if !gotFG && !gotTop {
		return
	}

	p.mu.Lock()
	if gotFG {
		p.latest.Sentiment = sentiment
	}
	if gotTop {
		p.latest.Top = top
	}
	p.latest.RefreshedAt = p.clock.Now()
	p.have = true
	overview := p.latest
	p.mu.Unlock()

	p.logger.Debug("poll cycle complete",
		"sentiment", gotFG,
		"top", len(top),
		"errors", failed.Load(),
		"duration", p.clock.Since(start),
	)

	if p.handler != nil {
		if err := p.handler.HandleOverview(overview); err != nil {
			p.logger.Warn("overview handler failed", "err", err)
		}
	}
}
