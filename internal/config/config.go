package config

import "time"

// Config is the root configuration for a pricefeed instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	API      APIConfig      `yaml:"api"`
	Cache    CacheConfig    `yaml:"cache"`
	Watch    WatchConfig    `yaml:"watch"`
	Poller   PollerConfig   `yaml:"poller"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this process in logs.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds push channel settings.
type FeedConfig struct {
	URL                string        `yaml:"url"`
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	PingInterval       time.Duration `yaml:"ping_interval"`
	PingTimeout        time.Duration `yaml:"ping_timeout"`
	MessageBuffer      int           `yaml:"message_buffer"`
	DeliveryBuffer     int           `yaml:"delivery_buffer"`
}

// APIConfig holds REST snapshot client settings.
type APIConfig struct {
	RestURL      string        `yaml:"rest_url"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Currency     string        `yaml:"currency"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst    int           `yaml:"rate_burst"`
	Breaker      bool          `yaml:"breaker"`
}

// CacheConfig selects the REST response cache. An empty RedisURL keeps it in memory.
type CacheConfig struct {
	RedisURL string        `yaml:"redis_url"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// WatchConfig lists the symbols the process registers interest in at startup.
type WatchConfig struct {
	Symbols  []string `yaml:"symbols"`
	TopLimit int      `yaml:"top_limit"`
}

// PollerConfig holds market overview poller settings.
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ServerConfig holds the status HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
