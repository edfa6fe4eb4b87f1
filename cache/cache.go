// Package cache holds provider responses for a limited time so that
// repeated loads do not reach the network.
package cache // import "github.com/quotepacer/pacer/cache"

import (
	"errors"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// Cache maps string keys to values with a per-entry TTL. An entry is
// served while less than its TTL has passed since it was stored; after
// that it reads as absent. Stores implementing ExpiredDeleter also drop
// it on that lookup.
//
// Backend failures never reach callers of Get, Set, Remove, Clear and
// ClearPrefix: they are logged and a failed read counts as a miss. Use
// GetErr and SetErr to see them.
type Cache struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time

	registry metrics.Registry
	hits     metrics.Counter
	misses   metrics.Counter
	sets     metrics.Counter
	errs     metrics.Counter
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics registers the cache counters in r.
func WithMetrics(r metrics.Registry) Option {
	return func(c *Cache) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Cache on top of store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = metrics.NewRegistry()
	}
	c.hits = metrics.GetOrRegisterCounter("cache.hits", c.registry)
	c.misses = metrics.GetOrRegisterCounter("cache.misses", c.registry)
	c.sets = metrics.GetOrRegisterCounter("cache.sets", c.registry)
	c.errs = metrics.GetOrRegisterCounter("cache.errors", c.registry)
	c.registry.Unregister("cache.size")
	c.registry.Register("cache.size", metrics.NewFunctionalGauge(func() int64 {
		return int64(c.Len())
	}))
	return c
}

// Get returns the value stored under key if it is present and fresh.
func (c *Cache) Get(key string) (interface{}, bool) {
	v, ok, err := c.GetErr(key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}
	return v, ok
}

// GetErr is Get with backend errors reported.
func (c *Cache) GetErr(key string) (interface{}, bool, error) {
	e, ok, err := c.store.Get(key)
	if errors.Is(err, ErrNoSuchKey) {
		ok, err = false, nil
	}
	if err != nil {
		c.errs.Inc(1)
		c.misses.Inc(1)
		return nil, false, err
	}
	if !ok {
		c.misses.Inc(1)
		return nil, false, nil
	}
	if now := c.now(); !e.Valid(now) {
		c.misses.Inc(1)
		c.logger.Debug("cache entry expired", zap.String("key", key))
		if d, ok := c.store.(ExpiredDeleter); ok {
			if _, err := d.DeleteExpired(key, now); err != nil {
				c.errs.Inc(1)
				c.logger.Warn("purging expired entry failed", zap.String("key", key), zap.Error(err))
			}
		}
		return nil, false, nil
	}
	c.hits.Inc(1)
	return e.Value, true, nil
}

// Set stores value under key for ttl, replacing any previous entry and
// restarting its lifetime. A ttl of zero or less removes key.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if err := c.SetErr(key, value, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// SetErr is Set with backend errors reported.
func (c *Cache) SetErr(key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return c.removeErr(key)
	}
	if err := c.store.Set(key, Entry{Value: value, StoredAt: c.now(), TTL: ttl}); err != nil {
		c.errs.Inc(1)
		return err
	}
	c.sets.Inc(1)
	return nil
}

// Remove deletes key. It does nothing when key is absent.
func (c *Cache) Remove(key string) {
	if err := c.removeErr(key); err != nil {
		c.logger.Warn("cache remove failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) removeErr(key string) error {
	if err := c.store.Delete(key); err != nil {
		c.errs.Inc(1)
		return err
	}
	return nil
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.ClearPrefix("")
}

// ClearPrefix removes every entry whose key starts with prefix, e.g.
// "news_" for all news.
func (c *Cache) ClearPrefix(prefix string) {
	if err := c.store.DeletePrefix(prefix); err != nil {
		c.errs.Inc(1)
		c.logger.Warn("cache clear failed", zap.String("prefix", prefix), zap.Error(err))
		return
	}
	c.logger.Info("cache cleared", zap.String("prefix", prefix))
}

// Len returns the number of stored entries. Expired entries that were not
// purged yet are included.
func (c *Cache) Len() int {
	n, err := c.store.Len()
	if err != nil {
		c.errs.Inc(1)
		c.logger.Warn("cache size failed", zap.Error(err))
		return 0
	}
	return n
}

// Purge drops expired entries when the store supports it, and returns
// how many were dropped.
func (c *Cache) Purge() int {
	p, ok := c.store.(Purger)
	if !ok {
		return 0
	}
	n, err := p.Purge(c.now())
	if err != nil {
		c.errs.Inc(1)
		c.logger.Warn("cache purge failed", zap.Error(err))
	}
	if n > 0 {
		c.logger.Debug("purged expired entries", zap.Int("count", n))
	}
	return n
}
