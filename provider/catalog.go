// Package provider describes the market-data upstreams and loads their
// responses through the throttles and the response cache.
package provider

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/quotepacer/pacer"
)

// Provider groups used for rotation.
const (
	GroupStockMarket = "stock_market"
	GroupNews        = "news"
	GroupCrypto      = "crypto"
	GroupEconomic    = "economic"
)

// Provider describes one upstream API.
type Provider struct {
	Name    string
	BaseURL string

	// KeyParam is the query parameter carrying the API key. Empty for
	// keyless APIs.
	KeyParam string

	// Defaults are added to every request unless the caller sets them.
	Defaults url.Values

	Interval   time.Duration
	MaxQueue   int
	Category   Category
	DailyLimit int
}

// Catalog returns the built-in providers by name. The map is a fresh
// copy on every call.
func Catalog() map[string]Provider {
	ps := []Provider{
		{Name: "brapi", BaseURL: "https://brapi.dev/api", KeyParam: "token",
			Interval: 1500 * time.Millisecond, MaxQueue: 50, Category: Stocks, DailyLimit: 200},
		{Name: "finnhub", BaseURL: "https://finnhub.io/api/v1", KeyParam: "token",
			Interval: 1100 * time.Millisecond, MaxQueue: 100, Category: Stocks, DailyLimit: 60},
		{Name: "alphavantage", BaseURL: "https://www.alphavantage.co", KeyParam: "apikey",
			Category: Stocks, DailyLimit: 25},
		{Name: "yahoo", BaseURL: "https://query1.finance.yahoo.com/v8/finance",
			Category: Indices, DailyLimit: 500},
		{Name: "fred", BaseURL: "https://api.stlouisfed.org/fred", KeyParam: "api_key",
			Defaults: url.Values{"file_type": {"json"}}, Category: Economic, DailyLimit: 100},
		{Name: "gnews", BaseURL: "https://gnews.io/api/v4", KeyParam: "apikey",
			Category: News, DailyLimit: 100},
		{Name: "coingecko", BaseURL: "https://api.coingecko.com/api/v3",
			Category: Crypto, DailyLimit: 50},
		{Name: "fmp", BaseURL: "https://financialmodelingprep.com/api/v3", KeyParam: "apikey",
			Category: Financials, DailyLimit: 250},
		{Name: "polygon", BaseURL: "https://api.polygon.io/v2", KeyParam: "apiKey",
			Category: Stocks, DailyLimit: 5},
	}
	out := make(map[string]Provider, len(ps))
	for _, p := range ps {
		if p.Interval == 0 {
			p.Interval = time.Second
		}
		if p.MaxQueue == 0 {
			p.MaxQueue = 50
		}
		out[p.Name] = p
	}
	return out
}

// DefaultGroups lists the providers of each group in rotation order.
func DefaultGroups() map[string][]string {
	return map[string][]string{
		GroupStockMarket: {"alphavantage", "yahoo", "fmp", "polygon", "finnhub", "brapi"},
		GroupNews:        {"gnews"},
		GroupCrypto:      {"coingecko", "alphavantage", "brapi"},
		GroupEconomic:    {"fred", "alphavantage", "finnhub"},
	}
}

// Overrides adjusts catalog entries. Zero values leave the entry alone.
type Overrides struct {
	Intervals   map[string]time.Duration
	Queues      map[string]int
	BaseURLs    map[string]string
	DailyLimits map[string]int
}

// Apply returns a copy of ps with o applied. Overrides for unknown
// providers are ignored.
func (o Overrides) Apply(ps map[string]Provider) map[string]Provider {
	out := make(map[string]Provider, len(ps))
	for name, p := range ps {
		if d, ok := o.Intervals[name]; ok && d >= 0 {
			p.Interval = d
		}
		if n, ok := o.Queues[name]; ok && n > 0 {
			p.MaxQueue = n
		}
		if u, ok := o.BaseURLs[name]; ok && u != "" {
			p.BaseURL = strings.TrimRight(u, "/")
		}
		if n, ok := o.DailyLimits[name]; ok {
			p.DailyLimit = n
		}
		out[name] = p
	}
	return out
}

// Limits returns the daily limit of every provider that has one.
func Limits(ps map[string]Provider) map[string]int {
	out := make(map[string]int)
	for name, p := range ps {
		if p.DailyLimit > 0 {
			out[name] = p.DailyLimit
		}
	}
	return out
}

// Names returns the sorted provider names.
func Names(ps map[string]Provider) []string {
	names := make([]string, 0, len(ps))
	for n := range ps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RegisterThrottles adds one throttle per provider to reg, with the
// provider's interval and queue size.
func RegisterThrottles(reg *pacer.Registry, ps map[string]Provider, opts ...pacer.Option) error {
	for _, name := range Names(ps) {
		p := ps[name]
		if _, err := reg.Add(name, pacer.Delay(p.Interval), p.MaxQueue, opts...); err != nil {
			return err
		}
	}
	return nil
}
