package pacer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownThrottle is returned when a Registry has no throttle of the
	// requested name.
	ErrUnknownThrottle = errors.New("pacer: unknown throttle")

	// ErrDuplicateThrottle is returned when a name is added twice.
	ErrDuplicateThrottle = errors.New("pacer: throttle already registered")
)

// Registry owns one Throttle per upstream provider.
type Registry struct {
	opts []Option

	mu        sync.RWMutex
	throttles map[string]*Throttle
}

// NewRegistry creates an empty Registry. opts are applied to every
// Throttle it creates, before the per-throttle options of Add.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		opts:      opts,
		throttles: make(map[string]*Throttle),
	}
}

// Add creates and registers the throttle for name.
func (r *Registry) Add(name string, freq Delayer, maxQueue int, opts ...Option) (*Throttle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.throttles[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateThrottle, name)
	}
	all := make([]Option, 0, len(r.opts)+len(opts)+1)
	all = append(all, r.opts...)
	all = append(all, opts...)
	all = append(all, WithName(name))
	t := New(freq, maxQueue, all...)
	r.throttles[name] = t
	return t, nil
}

// Get returns the throttle registered for name.
func (r *Registry) Get(name string) (*Throttle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.throttles[name]
	return t, ok
}

// Enqueue runs op on the throttle registered for name and waits for it.
func (r *Registry) Enqueue(ctx context.Context, name string, op Operation) (interface{}, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownThrottle, name)
	}
	return t.Enqueue(ctx, op)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.throttles))
	for n := range r.throttles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Stats returns the counters of every registered throttle.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.throttles))
	for n, t := range r.throttles {
		out[n] = t.Stats()
	}
	return out
}

// Close closes every registered throttle.
func (r *Registry) Close() {
	r.mu.RLock()
	ts := make([]*Throttle, 0, len(r.throttles))
	for _, t := range r.throttles {
		ts = append(ts, t)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, t := range ts {
		wg.Add(1)
		go func(t *Throttle) {
			defer wg.Done()
			t.Close()
		}(t)
	}
	wg.Wait()
}
