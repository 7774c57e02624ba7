package trust

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"pc-deal-watch/internal/domain"
)

var (
	ratingRe = regexp.MustCompile(`(\d(?:[.,]\d{1,2})?)\s*(?:/\s*5|su\s*5|stelle|stars?|★)`)
	reviewRe = regexp.MustCompile(`(\d{1,5})\s*(?:recensioni|recensione|valutazioni|valutazione|feedback|reviews?)`)
	photoRe  = regexp.MustCompile(`\b(?:foto|photos?|immagini)\b`)
)

// Extractor pulls seller signals out of listing text.
type Extractor struct {
	cfg Config
}

// NewExtractor builds an extractor over the configured keyword lists.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{cfg: cfg.withDefaults()}
}

// Extract reads payment, credibility and quality hints from a listing.
// Structured fields on the listing win over values found in the text.
func (e *Extractor) Extract(l domain.Listing) domain.SellerSignals {
	var sig domain.SellerSignals

	parts := append([]string{l.Title, l.Condition}, l.Snippets...)
	text := strings.ToLower(strings.Join(parts, " \n "))

	// risky phrases are removed before looking for safe ones so that
	// "paypal amici" does not also count as "paypal".
	stripped := text
	for _, kw := range e.cfg.PaymentBad {
		kw = strings.ToLower(kw)
		if strings.Contains(stripped, kw) {
			sig.PaymentRisks = append(sig.PaymentRisks, kw)
			stripped = strings.ReplaceAll(stripped, kw, " ")
		}
	}
	for _, kw := range e.cfg.PaymentGood {
		kw = strings.ToLower(kw)
		if strings.Contains(stripped, kw) {
			sig.PaymentKeywords = append(sig.PaymentKeywords, kw)
		}
	}
	sig.PaymentProtected = len(sig.PaymentKeywords) > 0

	for _, kw := range e.cfg.ConditionGood {
		kw = strings.ToLower(kw)
		if strings.Contains(text, kw) {
			sig.ConditionHints = append(sig.ConditionHints, kw)
		}
	}

	if l.SellerRating != nil {
		sig.Rating = decimal.NewNullDecimal(*l.SellerRating)
	} else if m := ratingRe.FindStringSubmatch(text); m != nil {
		if r, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ".")); err == nil && r.LessThanOrEqual(decimal.NewFromInt(5)) {
			sig.Rating = decimal.NewNullDecimal(r)
		}
	}

	if l.ReviewCount != nil {
		sig.ReviewCount, sig.HasReviewCount = *l.ReviewCount, true
	} else if m := reviewRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			sig.ReviewCount, sig.HasReviewCount = n, true
		}
	}

	sig.HasPhotos = l.HasPhotos || photoRe.MatchString(text)
	sig.HasDetails = l.HasDetails || len(strings.TrimSpace(strings.Join(l.Snippets, " "))) >= e.cfg.MinDetailChars
	return sig
}
