package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Condition of the item behind an observation.
type Condition string

const (
	ConditionNew  Condition = "new"
	ConditionUsed Condition = "used"
)

// Source identifies where an observation came from. The set is closed.
type Source string

const (
	SourceTrovaprezzi  Source = "trovaprezzi"
	SourceIdealo       Source = "idealo"
	SourceSubitoImport Source = "subito-import"
	SourceSubitoIMAP   Source = "subito-imap"
)

// SourceKind splits sources into price-comparison and secondhand feeds.
type SourceKind int

const (
	KindUnknown SourceKind = iota
	KindPriceComparison
	KindSecondhand
)

// Kind returns the source family.
func (s Source) Kind() SourceKind {
	switch s {
	case SourceTrovaprezzi, SourceIdealo:
		return KindPriceComparison
	case SourceSubitoImport, SourceSubitoIMAP:
		return KindSecondhand
	default:
		return KindUnknown
	}
}

// ParseSource validates a source label.
func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if src.Kind() == KindUnknown {
		return "", fmt.Errorf("unknown source %q", s)
	}
	return src, nil
}

// SellerSignals are trust hints extracted from a secondhand listing's text.
type SellerSignals struct {
	PaymentProtected bool
	PaymentKeywords  []string
	PaymentRisks     []string
	Rating           decimal.NullDecimal
	ReviewCount      int
	HasReviewCount   bool
	ConditionHints   []string
	HasPhotos        bool
	HasDetails       bool
}

// HasCredibility reports whether any seller credibility indicator was found.
func (s SellerSignals) HasCredibility() bool {
	return s.Rating.Valid || s.HasReviewCount
}

// Observation is one stored price sighting. Observations are never updated;
// ID and StoredAt are assigned by the history store on append.
type Observation struct {
	ID            int64
	Key           ProductKey
	Title         string
	Price         decimal.Decimal
	Condition     Condition
	Source        Source
	URL           string
	Location      string
	ObservedAt    time.Time
	SellerSignals *SellerSignals
	StoredAt      time.Time
}

// DedupeKey is (product, source, url, price, day). Stores use it only when
// daily de-duplication is switched on.
func (o Observation) DedupeKey() string {
	return strings.Join([]string{
		o.Key.Slug(),
		string(o.Source),
		o.URL,
		o.Price.StringFixed(2),
		o.ObservedAt.UTC().Format("2006-01-02"),
	}, "|")
}

// RawObservation is the normalised output of a price-comparison fetcher.
// Price and ObservedAt are pointers so that absence can be told apart from zero.
type RawObservation struct {
	SKUQuery   string
	Title      string
	Price      *decimal.Decimal
	Shipping   *decimal.Decimal
	Currency   string
	URL        string
	ObservedAt *time.Time
	Source     Source
}

// Validate rejects records with missing fields instead of defaulting them.
func (r RawObservation) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if r.Price == nil {
		missing = append(missing, "price")
	}
	if strings.TrimSpace(r.Currency) == "" {
		missing = append(missing, "currency")
	}
	if strings.TrimSpace(r.URL) == "" {
		missing = append(missing, "url")
	}
	if r.ObservedAt == nil || r.ObservedAt.IsZero() {
		missing = append(missing, "observed_at")
	}
	if r.Source == "" {
		missing = append(missing, "source")
	}
	if len(missing) > 0 {
		return &IngestionFailure{URL: r.URL, Missing: missing}
	}
	if r.Price.Sign() <= 0 {
		return &IngestionFailure{URL: r.URL, Reason: "non-positive price"}
	}
	return nil
}

// Listing is a parsed secondhand record from file or mail import.
type Listing struct {
	Title      string
	Price      *decimal.Decimal
	Shipping   *decimal.Decimal
	Currency   string
	Location   string
	URL        string
	ObservedAt *time.Time
	Condition  string
	Seller     string
	Snippets   []string
	Source     Source

	// Structured hints some exports carry next to the free text.
	HasPhotos    bool
	HasDetails   bool
	SellerRating *decimal.Decimal
	ReviewCount  *int
}

// MissingFields lists required listing fields that are absent.
func (l Listing) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(l.Title) == "" {
		missing = append(missing, "title")
	}
	if l.Price == nil || l.Price.Sign() <= 0 {
		missing = append(missing, "price")
	}
	if strings.TrimSpace(l.Location) == "" {
		missing = append(missing, "location")
	}
	if strings.TrimSpace(l.URL) == "" {
		missing = append(missing, "url")
	}
	if l.ObservedAt == nil || l.ObservedAt.IsZero() {
		missing = append(missing, "observed_at")
	}
	return missing
}
