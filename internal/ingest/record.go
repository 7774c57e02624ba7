// Package ingest reads secondhand listings exported by hand or forwarded by
// marketplace alert mails.
package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/money"
)

// fromRecord maps a loosely-typed record (JSON object or CSV row) onto a
// Listing. Italian and English column names are both accepted.
func fromRecord(rec map[string]any, source domain.Source) domain.Listing {
	l := domain.Listing{
		Title:     str(rec, "title", "name", "titolo"),
		URL:       str(rec, "url", "link"),
		Currency:  str(rec, "currency", "valuta"),
		Location:  str(rec, "location", "citta", "city", "luogo"),
		Condition: str(rec, "condition", "condizione"),
		Seller:    str(rec, "seller", "venditore"),
		Source:    source,
	}
	if l.Currency == "" {
		l.Currency = "EUR"
	}

	if p, ok := amount(rec, "price_eur"); ok {
		l.Price = &p
	} else if p, ok := amount(rec, "price", "prezzo"); ok {
		l.Price = &p
	}
	if p, ok := amount(rec, "shipping_eur"); ok {
		l.Shipping = &p
	} else if p, ok := amount(rec, "shipping", "spedizione"); ok {
		l.Shipping = &p
	}

	if ts, ok := timestamp(rec, "observed_at", "date", "data", "ts"); ok {
		l.ObservedAt = &ts
	}

	for _, key := range []string{"description", "descrizione", "text", "snippet"} {
		if s := str(rec, key); s != "" {
			l.Snippets = append(l.Snippets, s)
		}
	}
	if list, ok := rec["snippets"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				l.Snippets = append(l.Snippets, s)
			}
		}
	}

	l.HasPhotos = boolean(rec, "has_photos", "foto")
	l.HasDetails = boolean(rec, "has_details")
	if r, ok := amount(rec, "seller_rating", "rating"); ok {
		l.SellerRating = &r
	}
	if n, ok := amount(rec, "review_count", "reviews", "recensioni"); ok {
		count := int(n.IntPart())
		l.ReviewCount = &count
	}
	return l
}

// fromPriceRecord maps a row of a new-price history export. Missing fields
// stay nil so that validation downstream rejects the row.
func fromPriceRecord(rec map[string]any, fallback domain.Source) domain.RawObservation {
	raw := domain.RawObservation{
		SKUQuery: str(rec, "sku", "sku_query", "query"),
		Title:    str(rec, "title", "name", "titolo"),
		URL:      str(rec, "url", "link"),
		Currency: str(rec, "currency", "valuta"),
		Source:   fallback,
	}
	if src, err := domain.ParseSource(str(rec, "source", "fonte")); err == nil {
		raw.Source = src
	}
	if p, ok := amount(rec, "price_eur", "price", "prezzo"); ok {
		raw.Price = &p
	}
	if p, ok := amount(rec, "shipping_eur", "shipping", "spedizione"); ok {
		raw.Shipping = &p
	}
	if ts, ok := timestamp(rec, "observed_at", "date", "data", "ts"); ok {
		raw.ObservedAt = &ts
	}
	return raw
}

func str(rec map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func amount(rec map[string]any, keys ...string) (decimal.Decimal, bool) {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case float64:
			return decimal.NewFromFloat(v), true
		case string:
			if p, ok := money.ParseEUR(v); ok {
				return p, true
			}
		}
	}
	return decimal.Decimal{}, false
}

func boolean(rec map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := rec[k].(type) {
		case bool:
			return v
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b
			}
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "si", "sì", "yes":
				return true
			}
		}
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

func timestamp(rec map[string]any, keys ...string) (time.Time, bool) {
	for _, k := range keys {
		s, ok := rec[k].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return ts.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
