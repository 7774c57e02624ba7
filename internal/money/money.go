// Package money parses price text from Italian retail pages and converts
// amounts to EUR.
package money

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const amountPattern = `(\d{1,3}(?:[.,]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`

var (
	priceRE  = regexp.MustCompile(amountPattern)
	taggedRE = regexp.MustCompile(`€\s*` + amountPattern + `|` + amountPattern + `\s*(?:€|EUR\b)`)
)

// ParseEUR extracts the first amount from text such as "1.234,56 €",
// "€ 1,234.56" or "899,9". It reports false when no amount is present.
func ParseEUR(text string) (decimal.Decimal, bool) {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	m := priceRE.FindString(text)
	if m == "" {
		return decimal.Decimal{}, false
	}

	commas := strings.Count(m, ",")
	dots := strings.Count(m, ".")
	switch {
	case commas == 1 && dots >= 1 && strings.LastIndex(m, ",") > strings.LastIndex(m, "."):
		m = strings.ReplaceAll(m, ".", "")
		m = strings.Replace(m, ",", ".", 1)
	case commas >= 1 && dots == 1 && strings.LastIndex(m, ".") > strings.LastIndex(m, ","):
		m = strings.ReplaceAll(m, ",", "")
	case commas == 1 && dots == 0:
		if isThousandsGroup(m, ",") {
			m = strings.ReplaceAll(m, ",", "")
		} else {
			m = strings.Replace(m, ",", ".", 1)
		}
	case dots == 1 && commas == 0:
		if isThousandsGroup(m, ".") {
			m = strings.ReplaceAll(m, ".", "")
		}
	default:
		m = strings.ReplaceAll(m, ",", "")
		m = strings.ReplaceAll(m, ".", "")
	}

	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParseEURTagged is ParseEUR restricted to amounts written next to a euro
// sign, so that model numbers such as "RTX 4070" are never read as prices.
func ParseEURTagged(text string) (decimal.Decimal, bool) {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	m := taggedRE.FindStringSubmatch(text)
	if m == nil {
		return decimal.Decimal{}, false
	}
	amount := m[1]
	if amount == "" {
		amount = m[2]
	}
	return ParseEUR(amount)
}

// isThousandsGroup treats "1.299" as 1299 but "12.99" as 12.99.
func isThousandsGroup(s, sep string) bool {
	idx := strings.LastIndex(s, sep)
	return len(s)-idx-1 == 3
}

// Converter normalises amounts to EUR using static rates.
type Converter struct {
	rates map[string]decimal.Decimal
}

// NewConverter builds a converter from "currency -> EUR per unit" rates.
// EUR is always accepted at 1.
func NewConverter(rates map[string]float64) *Converter {
	c := &Converter{rates: map[string]decimal.Decimal{"EUR": decimal.NewFromInt(1)}}
	for code, rate := range rates {
		if rate <= 0 {
			continue
		}
		c.rates[strings.ToUpper(strings.TrimSpace(code))] = decimal.NewFromFloat(rate)
	}
	return c
}

// ToEUR converts amount in currency to EUR rounded to cents.
func (c *Converter) ToEUR(amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "€" {
		code = "EUR"
	}
	rate, ok := c.rates[code]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unsupported currency %q", currency)
	}
	return amount.Mul(rate).Round(2), nil
}
