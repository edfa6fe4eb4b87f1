package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/quotepacer/pacer"
	"github.com/quotepacer/pacer/cache"
)

// maxBody bounds how much of an upstream response is read.
const maxBody = 8 << 20

// Request names one upstream call.
type Request struct {
	Provider string
	Endpoint string
	Query    url.Values

	// Category decides the cache TTL and key prefix. Empty means the
	// provider's default category.
	Category Category
}

// Result is the body of an upstream response, fresh or cached.
type Result struct {
	Key    string
	Body   []byte
	Cached bool
}

// Loader performs provider calls: it consults the cache, checks the daily
// budget, waits for the provider's throttle, performs the request and
// caches the body with the TTL of its category.
type Loader struct {
	throttles *pacer.Registry
	cache     *cache.Cache
	budget    *pacer.Budget
	client    *http.Client
	providers map[string]Provider
	apiKeys   map[string]string
	ttls      map[Category]time.Duration
	useCache  bool
	logger    *zap.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHTTPClient sets the client used for upstream calls.
func WithHTTPClient(c *http.Client) LoaderOption {
	return func(l *Loader) {
		if c != nil {
			l.client = c
		}
	}
}

// WithBudget enables daily call limits.
func WithBudget(b *pacer.Budget) LoaderOption {
	return func(l *Loader) { l.budget = b }
}

// WithProviders replaces the built-in catalog.
func WithProviders(ps map[string]Provider) LoaderOption {
	return func(l *Loader) { l.providers = ps }
}

// WithAPIKeys sets the API key of each provider.
func WithAPIKeys(keys map[string]string) LoaderOption {
	return func(l *Loader) { l.apiKeys = keys }
}

// WithTTLs sets the TTL of each category.
func WithTTLs(ttls map[Category]time.Duration) LoaderOption {
	return func(l *Loader) { l.ttls = ttls }
}

// WithCacheEnabled switches caching. A disabled cache is neither read
// nor written.
func WithCacheEnabled(on bool) LoaderOption {
	return func(l *Loader) { l.useCache = on }
}

// WithLogger sets the logger.
func WithLogger(lg *zap.Logger) LoaderOption {
	return func(l *Loader) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// NewLoader creates a Loader. Every provider it is asked for must have a
// throttle of the same name in throttles.
func NewLoader(throttles *pacer.Registry, c *cache.Cache, opts ...LoaderOption) *Loader {
	l := &Loader{
		throttles: throttles,
		cache:     c,
		client:    &http.Client{Timeout: 15 * time.Second},
		providers: Catalog(),
		ttls:      TTLs(nil),
		useCache:  c != nil,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.useCache = false
	}
	return l
}

// Provider returns the description of name.
func (l *Loader) Provider(name string) (Provider, bool) {
	p, ok := l.providers[name]
	return p, ok
}

// CacheEnabled reports whether loads use the cache.
func (l *Loader) CacheEnabled() bool {
	return l.useCache
}

// Key returns the cache key of req.
func (l *Loader) Key(req Request) (string, error) {
	p, ok := l.providers[req.Provider]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	return Key(l.category(p, req), p.Name, req.Endpoint, req.Query, p.KeyParam), nil
}

// Load returns the body for req, from the cache when a fresh entry
// exists and from the upstream otherwise.
func (l *Loader) Load(ctx context.Context, req Request) (*Result, error) {
	p, ok := l.providers[req.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	cat := l.category(p, req)
	key := Key(cat, p.Name, req.Endpoint, req.Query, p.KeyParam)
	log := l.logger.With(zap.String("provider", p.Name), zap.String("key", key))

	if l.useCache {
		if v, ok := l.cache.Get(key); ok {
			if body, ok := asBytes(v); ok {
				log.Debug("cache hit")
				return &Result{Key: key, Body: body, Cached: true}, nil
			}
			log.Warn("dropping cache entry of unexpected type", zap.String("type", fmt.Sprintf("%T", v)))
			l.cache.Remove(key)
		}
	}

	if l.budget != nil {
		exhausted, err := l.budget.Exhausted(p.Name)
		if err != nil {
			log.Warn("reading call budget", zap.Error(err))
		}
		if exhausted {
			return nil, fmt.Errorf("%w: %s", ErrBudgetExhausted, p.Name)
		}
	}

	v, err := l.throttles.Enqueue(ctx, p.Name, func(ctx context.Context) (interface{}, error) {
		if l.budget != nil {
			if _, err := l.budget.Register(p.Name); err != nil {
				log.Warn("registering call", zap.Error(err))
			}
		}
		return l.fetch(ctx, p, req)
	})
	if err != nil {
		log.Info("load failed", zap.Error(err))
		return nil, err
	}
	body := v.([]byte)

	if l.useCache {
		l.cache.Set(key, body, l.ttls[cat])
	}
	log.Debug("loaded", zap.Int("bytes", len(body)))
	return &Result{Key: key, Body: body}, nil
}

// Invalidate removes one cache entry, typically one whose payload turned
// out to be unusable.
func (l *Loader) Invalidate(key string) {
	if l.cache != nil {
		l.cache.Remove(key)
	}
}

// Refresh drops every cached entry of category c.
func (l *Loader) Refresh(c Category) {
	if l.cache != nil {
		l.cache.ClearPrefix(c.Prefix())
	}
}

// Next picks the provider to use for a group, honoring daily limits. It
// needs a budget; without one it returns the first provider of the
// default group.
func (l *Loader) Next(group string) (string, error) {
	if l.budget != nil {
		return l.budget.Next(group)
	}
	ps := DefaultGroups()[group]
	if len(ps) == 0 {
		return "", pacer.ErrUnknownGroup
	}
	return ps[0], nil
}

func (l *Loader) category(p Provider, req Request) Category {
	if req.Category != "" {
		return req.Category
	}
	if p.Category != "" {
		return p.Category
	}
	return Stocks
}

func (l *Loader) fetch(ctx context.Context, p Provider, req Request) ([]byte, error) {
	u, err := l.url(p, req)
	if err != nil {
		return nil, err
	}
	hr, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "provider: building request")
	}
	hr = hr.WithContext(ctx)
	hr.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(hr)
	if err != nil {
		// *url.Error repeats the URL, API key included
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, errors.Wrapf(err, "provider: calling %s", p.Name)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, errors.Wrapf(err, "provider: reading %s response", p.Name)
	}
	if len(body) > maxBody {
		return nil, errors.Wrapf(ErrBodyTooLarge, "%s sent more than %d bytes", p.Name, maxBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Provider: p.Name, Code: resp.StatusCode, Body: body}
	}
	return body, nil
}

func (l *Loader) url(p Provider, req Request) (string, error) {
	q := url.Values{}
	for k, vs := range p.Defaults {
		q[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Query {
		q[k] = append([]string(nil), vs...)
	}
	if p.KeyParam != "" && q.Get(p.KeyParam) == "" {
		if key := l.apiKeys[p.Name]; key != "" {
			q.Set(p.KeyParam, key)
		}
	}

	u, err := url.Parse(strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(req.Endpoint, "/"))
	if err != nil {
		return "", errors.Wrapf(err, "provider: bad url for %s", p.Name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func asBytes(v interface{}) ([]byte, bool) {
	switch x := v.(type) {
	case []byte:
		return x, true
	case string:
		return []byte(x), true
	}
	return nil, false
}
