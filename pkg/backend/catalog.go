package backend

import (
	"context"
	"strings"

	"github.com/killallgit/finsight/pkg/config"
	"github.com/killallgit/finsight/pkg/logger"
)

// CatalogSource lists available filings
type CatalogSource interface {
	Filings(ctx context.Context) ([]FilingSummary, error)
}

var _ CatalogSource = (*Client)(nil)

// DefaultTickers is the built-in catalog used when the backend cannot be reached
var DefaultTickers = []FilingSummary{
	{Ticker: "AAPL", CompanyName: "Apple Inc.", Available: true},
	{Ticker: "MSFT", CompanyName: "Microsoft Corporation", Available: true},
	{Ticker: "GOOGL", CompanyName: "Alphabet Inc.", Available: true},
}

// Catalog lists tickers from the backend and falls back to a fixed list
// when the backend is unavailable, so the client stays usable without it.
type Catalog struct {
	source   CatalogSource
	fallback []FilingSummary
	log      *logger.Logger
}

// NewCatalog creates a catalog. A nil or empty fallback uses DefaultTickers.
func NewCatalog(source CatalogSource, fallback []FilingSummary) *Catalog {
	if len(fallback) == 0 {
		fallback = DefaultTickers
	}
	return &Catalog{source: source, fallback: fallback, log: logger.WithComponent("catalog")}
}

// FallbackFromConfig converts configured tickers into catalog entries
func FallbackFromConfig(tickers []config.TickerConfig) []FilingSummary {
	out := make([]FilingSummary, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, FilingSummary{Ticker: t.Ticker, CompanyName: t.CompanyName, Available: true})
	}
	return out
}

// List returns the backend catalog, or the fallback with live=false when
// the backend fails or returns nothing.
func (c *Catalog) List(ctx context.Context) (entries []FilingSummary, live bool) {
	if c.source != nil {
		filings, err := c.source.Filings(ctx)
		if err == nil && len(filings) > 0 {
			return filings, true
		}
		if err != nil {
			c.log.Warn("catalog unavailable, using built-in list", "error", err)
		}
	}

	entries = make([]FilingSummary, len(c.fallback))
	copy(entries, c.fallback)
	return entries, false
}

// Lookup finds ticker in the current catalog
func (c *Catalog) Lookup(ctx context.Context, ticker string) (FilingSummary, bool) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	entries, _ := c.List(ctx)
	for _, e := range entries {
		if e.Ticker == ticker {
			return e, true
		}
	}
	return FilingSummary{}, false
}
