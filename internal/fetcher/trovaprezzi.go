package fetcher

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"pc-deal-watch/internal/domain"
	"pc-deal-watch/internal/money"
)

const trovaprezziHost = "https://www.trovaprezzi.it"

// Trovaprezzi reads listing pages: every product link with a euro amount in
// one of its three nearest ancestors becomes an offer. Ancestors holding more
// than one link are not searched.
type Trovaprezzi struct {
	pageFetcher
}

// NewTrovaprezzi builds the list-page fetcher.
func NewTrovaprezzi(targets []Target, opts Options, logger zerolog.Logger) *Trovaprezzi {
	return &Trovaprezzi{pageFetcher: newPageFetcher(domain.SourceTrovaprezzi, targets, opts, logger)}
}

// Source implements Fetcher.
func (t *Trovaprezzi) Source() domain.Source { return domain.SourceTrovaprezzi }

// Fetch implements Fetcher.
func (t *Trovaprezzi) Fetch(ctx context.Context) ([]domain.RawObservation, error) {
	return t.each(ctx, t.parse)
}

func (t *Trovaprezzi) parse(target Target, doc *goquery.Document, at time.Time) []domain.RawObservation {
	base := pageBase(target.URL)

	var (
		order []string
		byURL = map[string]domain.RawObservation{}
	)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		title := collapse(a.Text())
		if len([]rune(title)) < 8 {
			return
		}
		if !strings.Contains(href, "trovaprezzi.it") && !strings.HasPrefix(href, "/") {
			return
		}
		full := href
		if strings.HasPrefix(href, "/") {
			full = base + href
		}

		anchorText := a.Text()
		parent := a.Parent()
		for i := 0; i < 3 && parent.Length() > 0; i++ {
			// stop before climbing into a container of other products
			if parent.Find("a[href]").Length() > 1 {
				break
			}
			text := strings.Replace(parent.Text(), anchorText, " ", 1)
			if strings.Contains(text, "€") {
				if price, ok := money.ParseEURTagged(text); ok {
					observedAt := at
					raw := domain.RawObservation{
						SKUQuery:   target.SKU,
						Title:      title,
						Price:      &price,
						Currency:   "EUR",
						URL:        full,
						ObservedAt: &observedAt,
						Source:     domain.SourceTrovaprezzi,
					}
					if _, seen := byURL[full]; !seen {
						order = append(order, full)
					}
					byURL[full] = raw
					return
				}
			}
			parent = parent.Parent()
		}
	})

	out := make([]domain.RawObservation, 0, len(order))
	for _, u := range order {
		out = append(out, byURL[u])
	}
	return out
}

// pageBase is scheme://host of the target, falling back to the public site.
func pageBase(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return trovaprezziHost
	}
	return u.Scheme + "://" + u.Host
}

var _ Fetcher = (*Trovaprezzi)(nil)
