package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":3000", c.Server.Addr)
	assert.Equal(t, 15*time.Second, c.Server.UpstreamTimeout)
	assert.Equal(t, 50*time.Millisecond, c.Throttle.Settle)
	assert.True(t, c.Cache.Enabled)
	assert.Equal(t, BackendMemory, c.Cache.Backend)
	assert.Equal(t, "localhost:6379", c.Redis.Addr)
	assert.True(t, c.Budget.Rotation)
	assert.Equal(t, 120, c.Inbound.PerMinute)
	assert.Equal(t, "info", c.Log.Level)
	assert.Empty(t, c.APIKeys)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PACER_SERVER_ADDR", "127.0.0.1:8080")
	t.Setenv("PACER_CACHE_ENABLED", "false")
	t.Setenv("PACER_CACHE_BACKEND", "GoRedis")
	t.Setenv("PACER_CACHE_MAX_KEYS", "500")
	t.Setenv("PACER_REDIS_DB", "2")
	t.Setenv("PACER_PROVIDER_INTERVALS", "brapi:2s,Finnhub:1100ms")
	t.Setenv("PACER_PROVIDER_QUEUES", "brapi:10")
	t.Setenv("PACER_API_KEYS", "finnhub:abc,fred:xyz")
	t.Setenv("PACER_DAILY_LIMITS", "polygon:5")
	t.Setenv("PACER_CATEGORY_TTLS", "crypto:1m")
	t.Setenv("PACER_LOG_DEVELOPMENT", "true")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", c.Server.Addr)
	assert.False(t, c.Cache.Enabled)
	assert.Equal(t, BackendGoRedis, c.Cache.Backend)
	assert.Equal(t, 500, c.Cache.MaxKeys)
	assert.Equal(t, 2, c.Redis.DB)
	assert.Equal(t, map[string]time.Duration{"brapi": 2 * time.Second, "finnhub": 1100 * time.Millisecond}, c.ProviderIntervals)
	assert.Equal(t, map[string]int{"brapi": 10}, c.ProviderQueues)
	assert.Equal(t, "abc", c.APIKeys["finnhub"])
	assert.Equal(t, 5, c.DailyLimits["polygon"])
	assert.Equal(t, time.Minute, c.CategoryTTL["crypto"])
	assert.True(t, c.Log.Development)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		env map[string]string
	}{
		0: {map[string]string{"PACER_CACHE_BACKEND": "memcached"}},
		1: {map[string]string{"PACER_BUDGET_BACKEND": "sql"}},
		2: {map[string]string{"PACER_PROVIDER_QUEUES": "brapi:0"}},
		3: {map[string]string{"PACER_CATEGORY_TTLS": "news:0s"}},
		4: {map[string]string{"PACER_INBOUND_BURST": "-1"}},
		5: {map[string]string{"PACER_PROVIDER_INTERVALS": "brapi:-1s"}},
		6: {map[string]string{"PACER_BASE_URLS": "brapi"}},
		7: {map[string]string{"PACER_BASE_URLS": ":http://localhost"}},
	}
	for i, c := range cases {
		t.Run("", func(t *testing.T) {
			for k, v := range c.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Errorf("%d: expected an error for %v", i, c.env)
			}
		})
	}
}

func TestLoadBaseURLs(t *testing.T) {
	t.Setenv("PACER_BASE_URLS", "brapi:http://127.0.0.1:38773/api, Yahoo:https://query1.finance.yahoo.com,")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"brapi": "http://127.0.0.1:38773/api",
		"yahoo": "https://query1.finance.yahoo.com",
	}, map[string]string(c.BaseURLs))
}
