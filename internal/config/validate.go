package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if err := validateURL("feed.url", c.Feed.URL, "http", "https", "ws", "wss"); err != nil {
		return err
	}
	if c.Feed.ReconnectBaseDelay <= 0 {
		return errors.New("feed.reconnect_base_delay must be > 0")
	}
	if c.Feed.ReconnectMaxDelay < c.Feed.ReconnectBaseDelay {
		return fmt.Errorf("feed.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Feed.ReconnectMaxDelay, c.Feed.ReconnectBaseDelay)
	}
	if c.Feed.PingInterval > 0 && c.Feed.PingTimeout <= c.Feed.PingInterval {
		return errors.New("feed.ping_timeout must exceed feed.ping_interval")
	}
	if c.Feed.MessageBuffer < 1 {
		return errors.New("feed.message_buffer must be >= 1")
	}
	if c.Feed.DeliveryBuffer < 1 {
		return errors.New("feed.delivery_buffer must be >= 1")
	}

	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}

	if c.Cache.RedisURL != "" {
		if err := validateURL("cache.redis_url", c.Cache.RedisURL, "redis", "rediss"); err != nil {
			return err
		}
	}

	if c.Watch.TopLimit < 1 || c.Watch.TopLimit > 500 {
		return fmt.Errorf("watch.top_limit must be between 1 and 500, got %d", c.Watch.TopLimit)
	}

	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid url: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%s must include a host", field)
			}
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %s, got %q", field, strings.Join(schemes, ", "), u.Scheme)
}
