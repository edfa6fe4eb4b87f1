package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Quote is a normalized stock quote.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Open          float64 `json:"open"`
	PreviousClose float64 `json:"previousClose"`
	Volume        float64 `json:"volume"`
	Currency      string  `json:"currency"`
	Region        string  `json:"region"`
}

type brapiResponse struct {
	Results []struct {
		Symbol                     string  `json:"symbol"`
		ShortName                  string  `json:"shortName"`
		LongName                   string  `json:"longName"`
		Currency                   string  `json:"currency"`
		RegularMarketPrice         float64 `json:"regularMarketPrice"`
		RegularMarketChange        float64 `json:"regularMarketChange"`
		RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
		RegularMarketDayHigh       float64 `json:"regularMarketDayHigh"`
		RegularMarketDayLow        float64 `json:"regularMarketDayLow"`
		RegularMarketOpen          float64 `json:"regularMarketOpen"`
		RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
		RegularMarketVolume        float64 `json:"regularMarketVolume"`
	} `json:"results"`
}

// BrapiQuote loads the quote of a Brazilian ticker from brapi. A cached
// response without results is dropped from the cache and reported as
// ErrNoData.
func (l *Loader) BrapiQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	res, err := l.Load(ctx, Request{
		Provider: "brapi",
		Endpoint: "quote/" + url.PathEscape(symbol),
		Category: Stocks,
	})
	if err != nil {
		return nil, err
	}

	var r brapiResponse
	if err := json.Unmarshal(res.Body, &r); err != nil {
		l.Invalidate(res.Key)
		return nil, errors.Wrap(err, "provider: decoding brapi quote")
	}
	if len(r.Results) == 0 {
		l.Invalidate(res.Key)
		return nil, errors.Wrapf(ErrNoData, "brapi %s", symbol)
	}

	s := r.Results[0]
	q := &Quote{
		Symbol:        s.Symbol,
		Name:          s.LongName,
		Price:         s.RegularMarketPrice,
		Change:        s.RegularMarketChange,
		ChangePercent: s.RegularMarketChangePercent,
		High:          s.RegularMarketDayHigh,
		Low:           s.RegularMarketDayLow,
		Open:          s.RegularMarketOpen,
		PreviousClose: s.RegularMarketPreviousClose,
		Volume:        s.RegularMarketVolume,
		Currency:      s.Currency,
		Region:        "BR",
	}
	if q.Name == "" {
		q.Name = s.ShortName
	}
	if q.Name == "" {
		q.Name = s.Symbol
	}
	if q.Currency == "" {
		q.Currency = "BRL"
	}
	return q, nil
}

type finnhubQuote struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PreviousClose float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// FinnhubQuote loads a quote from finnhub. Finnhub answers unknown
// symbols with an all-zero quote, which is reported as ErrNoData and not
// kept in the cache.
func (l *Loader) FinnhubQuote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	res, err := l.Load(ctx, Request{
		Provider: "finnhub",
		Endpoint: "quote",
		Query:    url.Values{"symbol": {symbol}},
		Category: Stocks,
	})
	if err != nil {
		return nil, err
	}

	var f finnhubQuote
	if err := json.Unmarshal(res.Body, &f); err != nil {
		l.Invalidate(res.Key)
		return nil, errors.Wrap(err, "provider: decoding finnhub quote")
	}
	if f.Current == 0 && f.Timestamp == 0 {
		l.Invalidate(res.Key)
		return nil, errors.Wrapf(ErrNoData, "finnhub %s", symbol)
	}
	return &Quote{
		Symbol:        symbol,
		Name:          symbol,
		Price:         f.Current,
		Change:        f.Change,
		ChangePercent: f.ChangePercent,
		High:          f.High,
		Low:           f.Low,
		Open:          f.Open,
		PreviousClose: f.PreviousClose,
		Currency:      "USD",
		Region:        "US",
	}, nil
}
