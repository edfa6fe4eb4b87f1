package cmd

import (
	"fmt"
	"net/http"
	"time"

	goredis "github.com/go-redis/redis"
	"github.com/gomodule/redigo/redis"
	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/quotepacer/pacer"
	"github.com/quotepacer/pacer/cache"
	"github.com/quotepacer/pacer/cache/gocachestore"
	"github.com/quotepacer/pacer/cache/goredisstore"
	"github.com/quotepacer/pacer/cache/memstore"
	"github.com/quotepacer/pacer/cache/redigostore"
	"github.com/quotepacer/pacer/internal/config"
	"github.com/quotepacer/pacer/internal/logging"
	"github.com/quotepacer/pacer/provider"
	"github.com/quotepacer/pacer/store/rediscounter"
)

// app holds the components built from a Config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   metrics.Registry
	providers map[string]provider.Provider
	throttles *pacer.Registry
	cache     *cache.Cache
	budget    *pacer.Budget
	loader    *provider.Loader
	pool      *redis.Pool

	closers []func()
}

func build(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewRegistry(),
	}

	a.providers = provider.Overrides{
		Intervals:   cfg.ProviderIntervals,
		Queues:      cfg.ProviderQueues,
		BaseURLs:    cfg.BaseURLs,
		DailyLimits: cfg.DailyLimits,
	}.Apply(provider.Catalog())

	a.throttles = pacer.NewRegistry(
		pacer.WithSettleDelay(cfg.Throttle.Settle),
		pacer.WithJobTimeout(cfg.Throttle.JobTimeout),
		pacer.WithMetrics(a.metrics),
		pacer.WithLogger(logging.Named(logger, "throttle")),
	)
	a.closers = append(a.closers, a.throttles.Close)
	if err := provider.RegisterThrottles(a.throttles, a.providers); err != nil {
		a.Close()
		return nil, err
	}

	st, err := a.cacheStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = cache.New(st,
		cache.WithLogger(logging.Named(logger, "cache")),
		cache.WithMetrics(a.metrics))

	counters, err := a.counterStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.budget = pacer.NewBudget(counters, provider.Limits(a.providers), provider.DefaultGroups(),
		pacer.WithRotation(cfg.Budget.Rotation),
		pacer.WithFallbackGroup(provider.GroupStockMarket),
		pacer.WithBudgetLogger(logging.Named(logger, "budget")))

	a.loader = provider.NewLoader(a.throttles, a.cache,
		provider.WithProviders(a.providers),
		provider.WithAPIKeys(cfg.APIKeys),
		provider.WithTTLs(provider.TTLs(cfg.CategoryTTL)),
		provider.WithCacheEnabled(cfg.Cache.Enabled),
		provider.WithBudget(a.budget),
		provider.WithHTTPClient(&http.Client{Timeout: cfg.Server.UpstreamTimeout}),
		provider.WithLogger(logging.Named(logger, "loader")))
	return a, nil
}

func (a *app) cacheStore() (cache.Store, error) {
	c := a.cfg.Cache
	switch c.Backend {
	case config.BackendMemory:
		return memstore.New(c.MaxKeys)
	case config.BackendGoCache:
		return gocachestore.New(c.PurgeInterval), nil
	case config.BackendRedigo:
		return redigostore.New(a.redigoPool(), c.KeyPrefix, a.cfg.Redis.DB)
	case config.BackendGoRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:        a.cfg.Redis.Addr,
			Password:    a.cfg.Redis.Password,
			DB:          a.cfg.Redis.DB,
			IdleTimeout: 30 * time.Second,
		})
		a.closers = append(a.closers, func() { client.Close() })
		return goredisstore.New(client, c.KeyPrefix)
	}
	return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
}

func (a *app) counterStore() (pacer.CounterStore, error) {
	switch a.cfg.Budget.Backend {
	case config.BackendMemory:
		return pacer.NewMemStore(), nil
	case config.BackendRedis:
		return rediscounter.New(a.redigoPool(), a.cfg.Budget.KeyPrefix, a.cfg.Redis.DB), nil
	}
	return nil, fmt.Errorf("unknown budget backend %q", a.cfg.Budget.Backend)
}

// redigoPool returns a pool shared by the redigo-based components.
func (a *app) redigoPool() *redis.Pool {
	if a.pool != nil {
		return a.pool
	}
	r := a.cfg.Redis
	pool := &redis.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", r.Addr, redis.DialPassword(r.Password))
		},
	}
	a.closers = append(a.closers, func() { pool.Close() })
	a.pool = pool
	return pool
}

// Close releases everything in reverse build order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
