package fetcher

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/money"
)

// Idealo reads product pages. Candidate prices come from JSON-LD offers,
// then price meta tags, then the page text; the lowest candidate wins.
type Idealo struct {
	pageFetcher
}

// NewIdealo builds the product-page fetcher.
func NewIdealo(targets []Target, opts Options, logger zerolog.Logger) *Idealo {
	return &Idealo{pageFetcher: newPageFetcher(domain.SourceIdealo, targets, opts, logger)}
}

// Source implements Fetcher.
func (i *Idealo) Source() domain.Source { return domain.SourceIdealo }

// Fetch implements Fetcher.
func (i *Idealo) Fetch(ctx context.Context) ([]domain.RawObservation, error) {
	return i.each(ctx, i.parse)
}

var priceMetaSelectors = []string{
	`meta[property="product:price:amount"]`,
	`meta[property="og:price:amount"]`,
	`meta[itemprop="price"]`,
}

func (i *Idealo) parse(target Target, doc *goquery.Document, at time.Time) []domain.RawObservation {
	title := collapse(doc.Find("h1").First().Text())
	if title == "" {
		title = collapse(doc.Find("title").First().Text())
	}

	prices := jsonLDPrices(doc)
	for _, sel := range priceMetaSelectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if p, ok := money.ParseEUR(content); ok {
				prices = append(prices, p)
				break
			}
		}
	}
	if len(prices) == 0 {
		if p, ok := money.ParseEURTagged(doc.Find("body").Text()); ok {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 || title == "" {
		i.logger.Warn().Str("url", target.URL).Msg("no price found on product page")
		return nil
	}

	best := prices[0]
	for _, p := range prices[1:] {
		if p.LessThan(best) {
			best = p
		}
	}
	observedAt := at
	return []domain.RawObservation{{
		SKUQuery:   target.SKU,
		Title:      title,
		Price:      &best,
		Currency:   "EUR",
		URL:        target.URL,
		ObservedAt: &observedAt,
		Source:     domain.SourceIdealo,
	}}
}

func jsonLDPrices(doc *goquery.Document) []decimal.Decimal {
	var prices []decimal.Decimal
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return
		}
		for _, obj := range jsonLDObjects(data) {
			switch offers := obj["offers"].(type) {
			case map[string]any:
				prices = append(prices, offerPrices(offers)...)
			case []any:
				for _, o := range offers {
					if m, ok := o.(map[string]any); ok {
						prices = append(prices, offerPrices(m)...)
					}
				}
			}
			prices = append(prices, offerPrices(obj)...)
		}
	})
	return prices
}

func jsonLDObjects(data any) []map[string]any {
	var out []map[string]any
	switch v := data.(type) {
	case map[string]any:
		if graph, ok := v["@graph"].([]any); ok {
			for _, n := range graph {
				if m, ok := n.(map[string]any); ok {
					out = append(out, m)
				}
			}
		}
		out = append(out, v)
	case []any:
		for _, item := range v {
			out = append(out, jsonLDObjects(item)...)
		}
	}
	return out
}

func offerPrices(o map[string]any) []decimal.Decimal {
	var out []decimal.Decimal
	for _, key := range []string{"lowPrice", "price", "highPrice"} {
		switch v := o[key].(type) {
		case float64:
			if v > 0 {
				out = append(out, decimal.NewFromFloat(v))
			}
		case string:
			if p, ok := money.ParseEUR(v); ok && p.Sign() > 0 {
				out = append(out, p)
			}
		}
	}
	return out
}

var _ Fetcher = (*Idealo)(nil)
