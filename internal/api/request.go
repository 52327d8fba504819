package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"github.com/rickgao/pricefeed/internal/cache"
)

// ErrBreakerOpen is returned without contacting the backend while the breaker is open.
var ErrBreakerOpen = circuitbreaker.ErrOpen

// APIError represents an error from the price backend.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("price api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// doRequest performs an HTTP request with the given method and path.
// A non-nil payload is sent as a JSON body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// guardedRequest runs one attempt through the rate limiter and circuit breaker.
// Only transport failures and retryable statuses count against the breaker.
func (c *Client) guardedRequest(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	if c.breaker == nil {
		return c.doRequest(ctx, method, path, query, payload)
	}

	if !c.breaker.TryAcquirePermit() {
		return nil, fmt.Errorf("%s %s: %w", method, path, ErrBreakerOpen)
	}

	body, err := c.doRequest(ctx, method, path, query, payload)
	var apiErr *APIError
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.As(err, &apiErr) && !apiErr.IsRetryable():
		c.breaker.RecordSuccess()
	case ctx.Err() != nil:
		// caller gave up, says nothing about the backend
	default:
		c.breaker.RecordError(err)
	}
	return body, err
}

// doWithRetry performs a request with exponential backoff retry.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.guardedRequest(ctx, method, path, query, payload)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// fetch runs call once per key at a time and serves repeated calls from the
// cache when one is configured. Cache failures degrade to a direct request.
//
// The shared call is detached from any single caller's context and bounded
// by callTimeout instead; each caller stops waiting when its own ctx is done.
func (c *Client) fetch(ctx context.Context, endpoint, key string, call func(context.Context) ([]byte, error)) ([]byte, error) {
	if c.cache != nil {
		body, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.metrics.CacheLookup(endpoint, true)
			return body, nil
		case errors.Is(err, cache.ErrCacheMiss):
			c.metrics.CacheLookup(endpoint, false)
		default:
			c.metrics.CacheLookup(endpoint, false)
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
	}

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		callCtx := shared
		if d := c.callTimeout(); d > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(shared, d)
			defer cancel()
		}

		start := time.Now()
		body, err := call(callCtx)
		c.metrics.ObserveRequest(endpoint, err, time.Since(start))
		if err != nil {
			return nil, err
		}

		if c.cache != nil {
			if err := c.cache.Set(callCtx, key, body, c.cacheTTL); err != nil {
				c.logger.Warn("cache write failed", "key", key, "error", err)
			}
		}
		return body, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// callTimeout bounds one shared call: every attempt at the HTTP client
// timeout plus the longest possible retry waits. Zero when the HTTP client
// has no timeout.
func (c *Client) callTimeout() time.Duration {
	if c.httpClient.Timeout <= 0 {
		return 0
	}
	retries := max(c.maxRetries, 0)
	waits := c.retryBackoff * 2 << min(retries, 16)
	return time.Duration(retries+1)*c.httpClient.Timeout + waits
}

// get performs a GET request with retries and decodes the JSON response.
func (c *Client) get(ctx context.Context, endpoint, key, path string, query url.Values, result any) error {
	body, err := c.fetch(ctx, endpoint, key, func(ctx context.Context) ([]byte, error) {
		return c.doWithRetry(ctx, http.MethodGet, path, query, nil)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// post sends payload as JSON with retries and decodes the JSON response.
func (c *Client) post(ctx context.Context, endpoint, key, path string, payload, result any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	body, err := c.fetch(ctx, endpoint, key, func(ctx context.Context) ([]byte, error) {
		return c.doWithRetry(ctx, http.MethodPost, path, nil, data)
	})
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
