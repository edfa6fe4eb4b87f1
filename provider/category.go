package provider

import (
	"strings"
	"time"
)

// Category classifies cached data and decides how long it stays fresh.
type Category string

const (
	Indices     Category = "indices"
	Stocks      Category = "stocks"
	News        Category = "news"
	Crypto      Category = "crypto"
	Commodities Category = "commodities"
	BestAssets  Category = "best_assets"
	Economic    Category = "economic"
	Financials  Category = "financials"
)

// DefaultTTLs is the freshness of each category.
var DefaultTTLs = map[Category]time.Duration{
	Indices:     15 * time.Minute,
	Stocks:      15 * time.Minute,
	News:        30 * time.Minute,
	Crypto:      5 * time.Minute,
	Commodities: 30 * time.Minute,
	BestAssets:  15 * time.Minute,
	Economic:    60 * time.Minute,
	Financials:  24 * time.Hour,
}

// Categories returns every known category.
func Categories() []Category {
	return []Category{Indices, Stocks, News, Crypto, Commodities, BestAssets, Economic, Financials}
}

// ParseCategory accepts a category name in any case, with "-" or "_"
// separators ("best-assets", "bestAssets" and "best_assets" are the same).
func ParseCategory(s string) (Category, bool) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(s))
	for _, c := range Categories() {
		if strings.ReplaceAll(string(c), "_", "") == norm {
			return c, true
		}
	}
	return "", false
}

// Prefix is the cache key prefix shared by every entry of c.
func (c Category) Prefix() string {
	return string(c) + "_"
}

// TTLs merges overrides into DefaultTTLs. Unknown category names are
// ignored.
func TTLs(overrides map[string]time.Duration) map[Category]time.Duration {
	out := make(map[Category]time.Duration, len(DefaultTTLs))
	for c, d := range DefaultTTLs {
		out[c] = d
	}
	for name, d := range overrides {
		if c, ok := ParseCategory(name); ok && d > 0 {
			out[c] = d
		}
	}
	return out
}
