// Package cachetest provides a conformance suite for cache.Store
// implementations.
package cachetest // import "github.com/quotepacer/pacer/cache/cachetest"

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/quotepacer/pacer/cache"
)

// TestStore checks the basic Store contract. Values are []byte, which
// every backend must round-trip unchanged. The store is cleared first.
func TestStore(t *testing.T, st cache.Store) {
	if err := st.DeletePrefix(""); err != nil {
		t.Fatal(err)
	}

	storedAt := time.Date(2024, 5, 2, 10, 30, 0, 123000, time.UTC)
	cases := []struct {
		key string
		val []byte
		ttl time.Duration
	}{
		0: {"stocks_brapi_quote/PETR4", []byte(`{"results":[]}`), 15 * time.Minute},
		1: {"news_gnews_top-headlines", []byte("headline"), 30 * time.Minute},
		2: {"news_gnews_search?q=ibov", []byte{0, 1, 2, 255}, time.Second},
		3: {"crypto_coingecko_simple/price", []byte{}, 5 * time.Minute},
	}

	for i, c := range cases {
		if err := st.Set(c.key, cache.Entry{Value: c.val, StoredAt: storedAt, TTL: c.ttl}); err != nil {
			t.Fatalf("%d: Set: %v", i, err)
		}
	}

	for i, c := range cases {
		e, ok, err := st.Get(c.key)
		if err != nil {
			t.Fatalf("%d: Get: %v", i, err)
		}
		if !ok {
			t.Errorf("%d: expected %q to be present", i, c.key)
			continue
		}
		if have := asBytes(e.Value); !bytes.Equal(have, c.val) {
			t.Errorf("%d: expected value %q, got %q", i, c.val, have)
		}
		if !e.StoredAt.Equal(storedAt) {
			t.Errorf("%d: expected stored-at %v, got %v", i, storedAt, e.StoredAt)
		}
		if e.TTL != c.ttl {
			t.Errorf("%d: expected ttl %s, got %s", i, c.ttl, e.TTL)
		}
	}

	if n, err := st.Len(); err != nil || n != len(cases) {
		t.Errorf("expected Len %d, got %d (%v)", len(cases), n, err)
	}

	// overwrite
	later := storedAt.Add(time.Minute)
	if err := st.Set(cases[0].key, cache.Entry{Value: []byte("new"), StoredAt: later, TTL: time.Hour}); err != nil {
		t.Fatal(err)
	}
	e, ok, err := st.Get(cases[0].key)
	if err != nil || !ok {
		t.Fatalf("expected overwritten key, got %v %v", ok, err)
	}
	if string(asBytes(e.Value)) != "new" || !e.StoredAt.Equal(later) || e.TTL != time.Hour {
		t.Errorf("expected overwrite to replace value, time and ttl, got %+v", e)
	}

	// missing keys
	if _, ok, err := st.Get("stocks_nope"); ok || err != nil {
		t.Errorf("expected miss for unknown key, got %v %v", ok, err)
	}
	if err := st.Delete("stocks_nope"); err != nil {
		t.Errorf("expected deleting a missing key to succeed, got %v", err)
	}

	if err := st.Delete(cases[3].key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Get(cases[3].key); ok {
		t.Errorf("expected %q to be deleted", cases[3].key)
	}

	if err := st.DeletePrefix("news_"); err != nil {
		t.Fatal(err)
	}
	for _, c := range cases[1:3] {
		if _, ok, _ := st.Get(c.key); ok {
			t.Errorf("expected %q to be cleared with its prefix", c.key)
		}
	}
	if _, ok, _ := st.Get(cases[0].key); !ok {
		t.Errorf("expected %q to survive clearing another prefix", cases[0].key)
	}

	if err := st.DeletePrefix(""); err != nil {
		t.Fatal(err)
	}
	if n, err := st.Len(); err != nil || n != 0 {
		t.Errorf("expected empty store, got %d (%v)", n, err)
	}
}

// TestCacheTTL checks expiry through a cache.Cache using real time.
func TestCacheTTL(t *testing.T, st cache.Store) {
	c := cache.New(st)
	c.Clear()

	c.Set("crypto_btc", []byte("64000"), 50*time.Millisecond)
	if v, ok := c.Get("crypto_btc"); !ok || string(asBytes(v)) != "64000" {
		t.Fatalf("expected fresh entry, got %v %v", v, ok)
	}

	time.Sleep(100 * time.Millisecond)
	if v, ok := c.Get("crypto_btc"); ok {
		t.Errorf("expected expired entry to be absent, got %q", asBytes(v))
	}
}

// BenchmarkStore measures Set followed by Get on distinct keys.
func BenchmarkStore(b *testing.B, st cache.Store) {
	val := []byte(`{"c":10.5,"h":11,"l":10,"o":10.2,"pc":10.1}`)
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("stocks_finnhub_quote?symbol=S%d", i%1000)
		if err := st.Set(key, cache.Entry{Value: val, StoredAt: now, TTL: time.Minute}); err != nil {
			b.Fatal(err)
		}
		if _, _, err := st.Get(key); err != nil {
			b.Fatal(err)
		}
	}
}

func asBytes(v interface{}) []byte {
	switch x := v.(type) {
	case []byte:
		return x
	case string:
		return []byte(x)
	default:
		return []byte(fmt.Sprint(x))
	}
}
