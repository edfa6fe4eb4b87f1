// Package gocachestore offers an in-memory store implementation for the
// cache backed by go-cache, whose janitor drops expired entries in the
// background.
package gocachestore // import "github.com/quotepacer/pacer/cache/gocachestore"

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/quotepacer/pacer/cache"
)

// GoCacheStore implements cache.Store on a go-cache instance.
type GoCacheStore struct {
	c *gocache.Cache
}

// New creates a store whose janitor runs every cleanupInterval. A
// cleanupInterval of zero or less disables the janitor.
func New(cleanupInterval time.Duration) *GoCacheStore {
	return &GoCacheStore{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// NewFrom wraps an existing go-cache instance.
func NewFrom(c *gocache.Cache) *GoCacheStore {
	return &GoCacheStore{c: c}
}

func (s *GoCacheStore) Get(key string) (cache.Entry, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return cache.Entry{}, false, nil
	}
	e, ok := v.(cache.Entry)
	return e, ok, nil
}

// Set stores e with go-cache's own expiration set to the entry TTL.
func (s *GoCacheStore) Set(key string, e cache.Entry) error {
	d := e.TTL - time.Since(e.StoredAt)
	if d <= 0 {
		// already stale; keep it until read so the cache sees the miss
		d = gocache.NoExpiration
	}
	s.c.Set(key, e, d)
	return nil
}

func (s *GoCacheStore) Delete(key string) error {
	s.c.Delete(key)
	return nil
}

func (s *GoCacheStore) DeletePrefix(prefix string) error {
	if prefix == "" {
		s.c.Flush()
		return nil
	}
	for k := range s.c.Items() {
		if strings.HasPrefix(k, prefix) {
			s.c.Delete(k)
		}
	}
	return nil
}

// Len counts entries go-cache has not expired yet.
func (s *GoCacheStore) Len() (int, error) {
	return len(s.c.Items()), nil
}

// Purge runs go-cache's expiry sweep, then drops what the cache would
// consider stale. now is used for the second step only.
func (s *GoCacheStore) Purge(now time.Time) (int, error) {
	before := s.c.ItemCount()
	s.c.DeleteExpired()
	n := before - s.c.ItemCount()
	for k, it := range s.c.Items() {
		if e, ok := it.Object.(cache.Entry); ok && !e.Valid(now) {
			s.c.Delete(k)
			n++
		}
	}
	return n, nil
}
