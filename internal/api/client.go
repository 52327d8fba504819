package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/rickgao/pricefeed/internal/cache"
	"github.com/rickgao/pricefeed/internal/metrics"
)

// DefaultCacheTTL matches the backend's own response cache.
const DefaultCacheTTL = 5 * time.Minute

// Client provides access to the price backend's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration

	cache    cache.Cache
	cacheTTL time.Duration
	group    singleflight.Group

	limiter *rate.Limiter
	breaker circuitbreaker.CircuitBreaker[any]
	metrics *metrics.APIMetrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
		cacheTTL:     DefaultCacheTTL,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithCache caches successful responses for ttl. A ttl <= 0 keeps DefaultCacheTTL.
func WithCache(store cache.Cache, ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cache = store
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithRateLimit limits outgoing requests to r per second with the given burst.
func WithRateLimit(r float64, burst int) ClientOption {
	return func(c *Client) {
		if r <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithBreaker guards the backend with a circuit breaker:
// 60% failure rate over at least 5 requests in 10s opens it, 30s later one
// successful trial request closes it again.
func WithBreaker(name string) ClientOption {
	return func(c *Client) {
		c.breaker = circuitbreaker.Builder[any]().
			WithFailureRateThreshold(60, 5, 10*time.Second).
			WithDelay(30 * time.Second).
			WithSuccessThreshold(1).
			OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
				c.logger.Warn("circuit breaker state changed",
					"component", name,
					"from", e.OldState.String(),
					"to", e.NewState.String(),
				)
			}).
			Build()
	}
}

// WithMetrics records request latency and cache effectiveness.
func WithMetrics(m *metrics.APIMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// BreakerState reports the circuit breaker state, or "disabled" without one.
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.State().String()
}
