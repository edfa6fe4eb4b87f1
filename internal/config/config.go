// Package config reads the pacerd settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix of every environment variable, e.g. PACER_SERVER_ADDR.
const Prefix = "pacer"

// Config holds the settings of the proxy server.
type Config struct {
	Server   ServerConfig
	Throttle ThrottleConfig
	Cache    CacheConfig
	Redis    RedisConfig
	Budget   BudgetConfig
	Inbound  InboundConfig
	Log      LogConfig

	// Per-provider overrides, "brapi:1500ms,finnhub:1100ms".
	ProviderIntervals map[string]time.Duration `split_words:"true"`
	ProviderQueues    map[string]int           `split_words:"true"`
	BaseURLs          URLMap                   `envconfig:"BASE_URLS"`

	APIKeys     map[string]string        `envconfig:"API_KEYS"`
	DailyLimits map[string]int           `split_words:"true"`
	CategoryTTL map[string]time.Duration `envconfig:"CATEGORY_TTLS"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `default:":3000"`
	ReadTimeout     time.Duration `split_words:"true" default:"30s"`
	WriteTimeout    time.Duration `split_words:"true" default:"60s"`
	UpstreamTimeout time.Duration `split_words:"true" default:"15s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
}

// ThrottleConfig holds settings shared by every provider throttle.
type ThrottleConfig struct {
	Settle     time.Duration `default:"50ms"`
	JobTimeout time.Duration `split_words:"true" default:"30s"`
}

// Cache and budget backends. Budget counters support memory and redis.
const (
	BackendMemory  = "memory"
	BackendGoCache = "gocache"
	BackendRedigo  = "redigo"
	BackendGoRedis = "goredis"
	BackendRedis   = "redis"
)

// CacheConfig selects and sizes the response cache.
type CacheConfig struct {
	Enabled       bool          `default:"true"`
	Backend       string        `default:"memory"`
	MaxKeys       int           `split_words:"true"`
	PurgeInterval time.Duration `split_words:"true" default:"5m"`
	KeyPrefix     string        `split_words:"true" default:"pacer:cache:"`
}

// RedisConfig is used by the redis cache backends and the redis budget.
type RedisConfig struct {
	Addr     string `default:"localhost:6379"`
	Password string
	DB       int `envconfig:"DB"`
}

// BudgetConfig selects where daily call counters live.
type BudgetConfig struct {
	Backend   string `default:"memory"`
	Rotation  bool   `default:"true"`
	KeyPrefix string `split_words:"true" default:"pacer:budget:"`
}

// InboundConfig limits requests per client address. A zero PerMinute
// disables the limit.
type InboundConfig struct {
	PerMinute int `split_words:"true" default:"120"`
	Burst     int `default:"20"`
	MaxKeys   int `split_words:"true" default:"65536"`
}

// LogConfig sets up the logger.
type LogConfig struct {
	Level       string `default:"info"`
	Development bool   `default:"false"`
}

// Load reads the configuration from PACER_* variables.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, err
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// provider and category names are matched case-insensitively
func (c *Config) normalize() {
	c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	c.Budget.Backend = strings.ToLower(c.Budget.Backend)
	c.ProviderIntervals = lowerKeys(c.ProviderIntervals)
	c.ProviderQueues = lowerKeys(c.ProviderQueues)
	c.BaseURLs = lowerKeys(map[string]string(c.BaseURLs))
	c.APIKeys = lowerKeys(c.APIKeys)
	c.DailyLimits = lowerKeys(c.DailyLimits)
	c.CategoryTTL = lowerKeys(c.CategoryTTL)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendGoCache, BackendRedigo, BackendGoRedis:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	switch c.Budget.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("config: unknown budget backend %q", c.Budget.Backend)
	}
	for p, d := range c.ProviderIntervals {
		if d < 0 {
			return fmt.Errorf("config: negative interval for %s", p)
		}
	}
	for p, n := range c.ProviderQueues {
		if n < 1 {
			return fmt.Errorf("config: queue size for %s must be at least 1", p)
		}
	}
	for cat, d := range c.CategoryTTL {
		if d <= 0 {
			return fmt.Errorf("config: ttl for %s must be positive", cat)
		}
	}
	if c.Inbound.PerMinute < 0 || c.Inbound.Burst < 0 {
		return fmt.Errorf("config: inbound limit must not be negative")
	}
	return nil
}

func lowerKeys[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// URLMap decodes "name:url,name:url". Items are split on their first
// colon only, so values may carry a scheme and a port.
type URLMap map[string]string

// Decode implements envconfig.Decoder.
func (m *URLMap) Decode(value string) error {
	out := URLMap{}
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return fmt.Errorf("invalid map item: %q", item)
		}
		out[k] = v
	}
	*m = out
	return nil
}
