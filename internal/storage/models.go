package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeRange is an inclusive observed_at window.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies inside the window.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && !t.After(r.To)
}

// Setting is one audited runtime override.
type Setting struct {
	Key       string
	Value     string
	Actor     string
	UpdatedAt time.Time
}

// AlertRecord captures an emitted alert for cooldown checks and auditing.
type AlertRecord struct {
	ID            uuid.UUID
	ProductSlug   string
	ObservationID int64
	Verdict       string
	Basis         string
	Price         decimal.Decimal
	Suppressed    bool
	Route         string
	TrustScore    decimal.NullDecimal
	Reasons       []string
	Reason        string
	CreatedAt     time.Time
}

// ReviewItem is a record parked for a human to look at.
type ReviewItem struct {
	ID        int64
	Kind      string
	Source    string
	Title     string
	URL       string
	Price     decimal.NullDecimal
	Reason    string
	CreatedAt time.Time
}

// Review item kinds.
const (
	ReviewUnmatched    = "unmatched"
	ReviewIncomplete   = "incomplete"
	ReviewManualReview = "manual_review"
)
