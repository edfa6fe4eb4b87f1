package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	metrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotepacer/pacer"
	"github.com/quotepacer/pacer/cache"
	"github.com/quotepacer/pacer/cache/memstore"
	"github.com/quotepacer/pacer/provider"
)

type testServer struct {
	handler  http.Handler
	hits     *int64
	cache    *cache.Cache
	budget   *pacer.Budget
	registry metrics.Registry
}

func newTestServer(t *testing.T, inboundPerMinute int) *testServer {
	var hits int64
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		switch {
		case strings.HasSuffix(r.URL.Path, "/quote/PETR4"):
			w.Write([]byte(`{"results":[{"symbol":"PETR4"}]}`))
		case strings.HasSuffix(r.URL.Path, "/search"):
			w.Write([]byte(`{"articles":[]}`))
		default:
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		}
	}))
	t.Cleanup(up.Close)

	urls := map[string]string{}
	intervals := map[string]time.Duration{}
	for name := range provider.Catalog() {
		urls[name] = up.URL + "/" + name
		intervals[name] = 0
	}
	ps := provider.Overrides{BaseURLs: urls, Intervals: intervals}.Apply(provider.Catalog())

	reg := metrics.NewRegistry()
	throttles := pacer.NewRegistry(pacer.WithSettleDelay(0), pacer.WithMetrics(reg))
	require.NoError(t, provider.RegisterThrottles(throttles, ps))
	t.Cleanup(throttles.Close)

	st, err := memstore.New(0)
	require.NoError(t, err)
	c := cache.New(st, cache.WithMetrics(reg))
	budget := pacer.NewBudget(nil, provider.Limits(ps), provider.DefaultGroups())
	loader := provider.NewLoader(throttles, c,
		provider.WithProviders(ps),
		provider.WithBudget(budget),
		provider.WithHTTPClient(up.Client()))

	s, err := New(Options{
		Loader:           loader,
		Throttles:        throttles,
		Cache:            c,
		Budget:           budget,
		Metrics:          reg,
		InboundPerMinute: inboundPerMinute,
		InboundBurst:     1,
		InboundMaxKeys:   100,
	})
	require.NoError(t, err)
	return &testServer{handler: s.Handler(), hits: &hits, cache: c, budget: budget, registry: reg}
}

func (ts *testServer) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)
	rr := ts.do("GET", "/api/health")
	require.Equal(t, 200, rr.Code)

	var h healthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, Version, h.Version)
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
}

func TestForwardCaches(t *testing.T) {
	ts := newTestServer(t, 0)

	rr := ts.do("GET", "/api/brapi/quote/PETR4")
	require.Equal(t, 200, rr.Code, rr.Body.String())
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))
	assert.JSONEq(t, `{"results":[{"symbol":"PETR4"}]}`, rr.Body.String())

	rr = ts.do("GET", "/api/brapi/quote/PETR4")
	require.Equal(t, 200, rr.Code)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
	assert.Equal(t, int64(1), atomic.LoadInt64(ts.hits))
}

func TestForwardCategory(t *testing.T) {
	ts := newTestServer(t, 0)

	rr := ts.do("GET", "/api/gnews/search?q=ibovespa&category=news")
	require.Equal(t, 200, rr.Code)
	_, ok := ts.cache.Get("news_gnews_search?q=ibovespa")
	assert.True(t, ok)

	rr = ts.do("GET", "/api/gnews/search?category=bonds")
	assert.Equal(t, 400, rr.Code)
}

func TestForwardErrors(t *testing.T) {
	ts := newTestServer(t, 0)

	rr := ts.do("GET", "/api/bloomberg/quote")
	assert.Equal(t, 404, rr.Code)

	rr = ts.do("GET", "/api/finnhub/nope")
	assert.Equal(t, 404, rr.Code)
	var e errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &e))
	assert.Equal(t, "Failed to fetch data from finnhub API", e.Error)
}

func TestForwardBudgetExhausted(t *testing.T) {
	ts := newTestServer(t, 0)
	for i := 0; i < ts.budget.Limit("polygon"); i++ {
		ts.budget.Register("polygon")
	}
	rr := ts.do("GET", "/api/polygon/aggs/ticker/AAPL")
	assert.Equal(t, 429, rr.Code)
	assert.Equal(t, int64(0), atomic.LoadInt64(ts.hits))
}

func TestClearCache(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.cache.Set("news_a", []byte("1"), time.Hour)
	ts.cache.Set("stocks_a", []byte("2"), time.Hour)
	ts.cache.Set("crypto_a", []byte("3"), time.Hour)

	rr := ts.do("DELETE", "/api/cache?prefix=news_")
	require.Equal(t, 200, rr.Code)
	assert.Equal(t, 2, ts.cache.Len())

	rr = ts.do("DELETE", "/api/cache?category=crypto")
	require.Equal(t, 200, rr.Code)
	assert.Equal(t, 1, ts.cache.Len())

	rr = ts.do("DELETE", "/api/cache?category=bonds")
	assert.Equal(t, 400, rr.Code)

	rr = ts.do("DELETE", "/api/cache")
	require.Equal(t, 200, rr.Code)
	assert.Equal(t, 0, ts.cache.Len())
}

func TestUsage(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.do("GET", "/api/brapi/quote/PETR4")

	rr := ts.do("GET", "/api/usage")
	require.Equal(t, 200, rr.Code)
	var u pacer.Usage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &u))
	assert.Equal(t, 1, u.TotalCalls)
	assert.Equal(t, 1, u.Calls["brapi"])
	assert.Equal(t, 199, u.Remaining["brapi"])
}

func TestMetricsAndThrottles(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.do("GET", "/api/brapi/quote/PETR4")

	rr := ts.do("GET", "/api/metrics")
	require.Equal(t, 200, rr.Code)
	var m map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m))
	assert.Equal(t, float64(1), m["pacer.brapi.dispatched"]["count"])
	assert.Contains(t, m, "cache.hits")

	rr = ts.do("GET", "/api/throttles")
	require.Equal(t, 200, rr.Code)
	var stats map[string]pacer.Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats["brapi"].Dispatched)
}

func TestNextProvider(t *testing.T) {
	ts := newTestServer(t, 0)
	rr := ts.do("GET", "/api/next/crypto")
	require.Equal(t, 200, rr.Code)
	assert.JSONEq(t, `{"group":"crypto","provider":"coingecko"}`, rr.Body.String())

	rr = ts.do("GET", "/api/next/bonds")
	assert.Equal(t, 404, rr.Code)
}

func TestInboundLimit(t *testing.T) {
	ts := newTestServer(t, 1)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, ts.do("GET", "/api/health").Code)
	}
	// burst of 1 allows two requests, the third is limited
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestClientKey(t *testing.T) {
	cases := []struct {
		addr string
		key  string
	}{
		0: {"192.0.2.1:1234", "192.0.2.1"},
		1: {"[2001:DB8::1]:80", "2001:db8::1"},
		2: {"198.51.100.7", "198.51.100.7"},
	}
	for i, c := range cases {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = c.addr
		if have := (clientKey{}).Key(r); have != c.key {
			t.Errorf("%d: expected %q, got %q", i, c.key, have)
		}
	}
}

func TestQueueFull(t *testing.T) {
	ps := map[string]provider.Provider{
		"brapi": {Name: "brapi", BaseURL: "http://127.0.0.1:1", Interval: 2500 * time.Millisecond, MaxQueue: 1},
	}
	throttles := pacer.NewRegistry(pacer.WithSettleDelay(0))
	require.NoError(t, provider.RegisterThrottles(throttles, ps))
	defer throttles.Close()

	// One job in flight and one waiting fill the brapi queue.
	th, _ := throttles.Get("brapi")
	started, release := make(chan struct{}), make(chan struct{})
	_, err := th.Submit(context.Background(), func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started
	_, err = th.Submit(context.Background(), func(ctx context.Context) (interface{}, error) { return nil, nil })
	require.NoError(t, err)
	defer close(release)

	s, err := New(Options{
		Loader:    provider.NewLoader(throttles, nil, provider.WithProviders(ps)),
		Throttles: throttles,
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/api/brapi/quote/PETR4", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "3", rr.Header().Get("Retry-After"))
	assert.Contains(t, rr.Body.String(), "queue is full")
}
