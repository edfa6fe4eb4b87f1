// Package memstore offers an in-memory store implementation for the cache.
package memstore // import "github.com/quotepacer/pacer/cache/memstore"

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/quotepacer/pacer/cache"
)

// MemStore keeps entries in process memory. Writers hold the mutex in
// both modes so that DeleteExpired can check and remove in one step.
type MemStore struct {
	sync.RWMutex
	keys *lru.Cache
	m    map[string]cache.Entry
}

// New sets up and returns an in-memory store. If maxKeys > 0, the number
// of different keys is restricted to the specified amount and the least
// recently used key is evicted to make room for a new one. An evicted key
// reads as a miss.
//
// If maxKeys <= 0, there is no limit on the number of keys; entries stay
// until they are read after expiring, removed, or purged.
func New(maxKeys int) (*MemStore, error) {
	if maxKeys > 0 {
		keys, err := lru.New(maxKeys)
		if err != nil {
			return nil, err
		}
		return &MemStore{keys: keys}, nil
	}
	return &MemStore{m: make(map[string]cache.Entry)}, nil
}

func (ms *MemStore) Get(key string) (cache.Entry, bool, error) {
	if ms.keys != nil {
		v, ok := ms.keys.Get(key)
		if !ok {
			return cache.Entry{}, false, nil
		}
		return v.(cache.Entry), true, nil
	}
	ms.RLock()
	defer ms.RUnlock()
	e, ok := ms.m[key]
	return e, ok, nil
}

func (ms *MemStore) Set(key string, e cache.Entry) error {
	ms.Lock()
	defer ms.Unlock()
	if ms.keys != nil {
		ms.keys.Add(key, e)
		return nil
	}
	ms.m[key] = e
	return nil
}

func (ms *MemStore) Delete(key string) error {
	ms.Lock()
	defer ms.Unlock()
	if ms.keys != nil {
		ms.keys.Remove(key)
		return nil
	}
	delete(ms.m, key)
	return nil
}

// DeleteExpired removes key only if its entry is invalid at now. A key
// that was stored again meanwhile is kept.
func (ms *MemStore) DeleteExpired(key string, now time.Time) (bool, error) {
	ms.Lock()
	defer ms.Unlock()
	if ms.keys != nil {
		v, ok := ms.keys.Peek(key)
		if !ok || v.(cache.Entry).Valid(now) {
			return false, nil
		}
		ms.keys.Remove(key)
		return true, nil
	}
	e, ok := ms.m[key]
	if !ok || e.Valid(now) {
		return false, nil
	}
	delete(ms.m, key)
	return true, nil
}

func (ms *MemStore) DeletePrefix(prefix string) error {
	ms.Lock()
	defer ms.Unlock()
	if ms.keys != nil {
		if prefix == "" {
			ms.keys.Purge()
			return nil
		}
		for _, k := range ms.keys.Keys() {
			if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
				ms.keys.Remove(k)
			}
		}
		return nil
	}
	for k := range ms.m {
		if strings.HasPrefix(k, prefix) {
			delete(ms.m, k)
		}
	}
	return nil
}

func (ms *MemStore) Len() (int, error) {
	if ms.keys != nil {
		return ms.keys.Len(), nil
	}
	ms.RLock()
	defer ms.RUnlock()
	return len(ms.m), nil
}

// Purge drops every entry that is no longer valid at now.
func (ms *MemStore) Purge(now time.Time) (int, error) {
	ms.Lock()
	defer ms.Unlock()
	var n int
	if ms.keys != nil {
		for _, k := range ms.keys.Keys() {
			// Peek leaves the recency order alone.
			v, ok := ms.keys.Peek(k)
			if ok && !v.(cache.Entry).Valid(now) {
				ms.keys.Remove(k)
				n++
			}
		}
		return n, nil
	}
	for k, e := range ms.m {
		if !e.Valid(now) {
			delete(ms.m, k)
			n++
		}
	}
	return n, nil
}
