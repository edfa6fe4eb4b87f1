package pacer

import (
	"sync"
	"time"
)

// CounterStore keeps the per-provider call counters of a Budget.
type CounterStore interface {
	// IncrSince increments the count for the specified key and returns
	// the new value. If the key is missing or its window started before
	// since, a new window starting at since is opened with a count of 1
	// and may be forgotten after the given duration. The check and the
	// write happen as one step, so concurrent callers sharing the store
	// never lose a count across a rollover.
	IncrSince(key string, since time.Time, window time.Duration) (int, error)

	// GetTs returns the current count and the UTC time the window of the
	// key started. A missing key has a count of 0.
	GetTs(key string) (cnt int, ts time.Time, err error)
}

// MemStore is an in-process CounterStore. Expired windows are dropped
// lazily on read.
type MemStore struct {
	sync.Mutex
	m   map[string]*counter
	now func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		m:   make(map[string]*counter),
		now: time.Now,
	}
}

type counter struct {
	n       int
	ts      time.Time
	expires time.Time
}

func (ms *MemStore) GetTs(key string) (int, time.Time, error) {
	ms.Lock()
	defer ms.Unlock()
	c := ms.live(key)
	if c == nil {
		return 0, time.Time{}, nil
	}
	return c.n, c.ts, nil
}

func (ms *MemStore) IncrSince(key string, since time.Time, win time.Duration) (int, error) {
	ms.Lock()
	defer ms.Unlock()
	c := ms.live(key)
	if c == nil || c.ts.Before(since) {
		c = &counter{n: 1, ts: since.UTC()}
		if win > 0 {
			c.expires = ms.now().Add(win)
		}
		ms.m[key] = c
		return 1, nil
	}
	c.n++
	return c.n, nil
}

// live returns the counter for key unless its window has passed. Callers
// hold the lock.
func (ms *MemStore) live(key string) *counter {
	c := ms.m[key]
	if c == nil {
		return nil
	}
	if !c.expires.IsZero() && !ms.now().Before(c.expires) {
		delete(ms.m, key)
		return nil
	}
	return c
}
