package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoCatalogueMatch is wrapped by NormalizationFailure when nothing matched.
var ErrNoCatalogueMatch = errors.New("no catalogue entry matched")

// ErrAmbiguousMatch is wrapped by NormalizationFailure when several entries tie.
var ErrAmbiguousMatch = errors.New("ambiguous catalogue match")

// ErrVariantMismatch is wrapped by NormalizationFailure when keywords matched
// but the title names another capacity, speed or wattage than the entry.
var ErrVariantMismatch = errors.New("title names a different variant")

// NormalizationFailure means a title could not be mapped to a ProductKey.
// Callers route it to the review queue and never guess a key.
type NormalizationFailure struct {
	Title      string
	SourceHint string
	Candidates []string
	Err        error
}

func (e *NormalizationFailure) Error() string {
	msg := fmt.Sprintf("normalize %q: %v", e.Title, e.Err)
	if len(e.Candidates) > 0 {
		msg += " (" + strings.Join(e.Candidates, ", ") + ")"
	}
	return msg
}

func (e *NormalizationFailure) Unwrap() error { return e.Err }

// RejectedGlitch is a guardrail rejection of an implausibly low new price.
type RejectedGlitch struct {
	Key    ProductKey
	Price  decimal.Decimal
	Floor  decimal.Decimal
	URL    string
	Source Source
}

func (e *RejectedGlitch) Error() string {
	return fmt.Sprintf("rejected glitch for %s: price %s below floor %s", e.Key.Slug(), e.Price.StringFixed(2), e.Floor.StringFixed(2))
}

// IncompleteListing marks a secondhand record missing required fields.
type IncompleteListing struct {
	URL     string
	Missing []string
}

func (e *IncompleteListing) Error() string {
	return fmt.Sprintf("incomplete listing %s: missing %s", e.URL, strings.Join(e.Missing, ","))
}

// IngestionFailure marks a price-source record that cannot be ingested.
type IngestionFailure struct {
	URL     string
	Missing []string
	Reason  string
}

func (e *IngestionFailure) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("ingestion failure %s: missing %s", e.URL, strings.Join(e.Missing, ","))
	}
	return fmt.Sprintf("ingestion failure %s: %s", e.URL, e.Reason)
}

// StorageFailure wraps history store errors. It is fatal for the current batch.
type StorageFailure struct {
	Op  string
	Err error
}

func (e *StorageFailure) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageFailure) Unwrap() error { return e.Err }

// IsStorageFailure reports whether err is or wraps a StorageFailure.
func IsStorageFailure(err error) bool {
	var sf *StorageFailure
	return errors.As(err, &sf)
}
