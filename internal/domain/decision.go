package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HistoryAggregate is derived from the observation log and never stored.
type HistoryAggregate struct {
	Key            ProductKey
	AsOf           time.Time
	Min30d         decimal.NullDecimal
	Mean30d        decimal.NullDecimal
	Min48h         decimal.NullDecimal
	SampleCount30d int
	LowConfidence  bool
	RapidDrop      bool
}

// Verdict is the buy/wait tier.
type Verdict string

const (
	VerdictAffare  Verdict = "AFFARE"
	VerdictBuono   Verdict = "BUONO"
	VerdictAspetta Verdict = "ASPETTA"
)

// Basis names the rule that produced a verdict.
type Basis string

const (
	BasisDealThreshold Basis = "deal_threshold"
	BasisGoodThreshold Basis = "good_threshold"
	BasisNearLowDrop   Basis = "near_low_rapid_drop"
	BasisNoMatch       Basis = "no_rule"
)

// ThresholdOnly reports whether the rule used absolute thresholds only.
func (b Basis) ThresholdOnly() bool {
	return b != BasisNearLowDrop
}

// Decision is the engine output for one observation.
type Decision struct {
	Key            ProductKey
	ObservationRef int64
	Observation    Observation
	Verdict        Verdict
	Basis          Basis
	Aggregate      HistoryAggregate
	Thresholds     Thresholds
}

// Reason is one trust signal that contributed to a score.
type Reason struct {
	Signal string
	Weight decimal.Decimal
	Detail string
}

// TrustScore is computed per alert for secondhand listings and never persisted.
type TrustScore struct {
	Score        decimal.Decimal
	Reasons      []Reason
	ManualReview bool
}

// Route tells notifiers where an alert belongs.
type Route string

const (
	RoutePush         Route = "push"
	RouteManualReview Route = "manual_review"
	RouteLogOnly      Route = "log_only"
)

// Alert is created once per assembled decision and never mutated afterwards.
type Alert struct {
	ID         uuid.UUID
	Decision   Decision
	Trust      *TrustScore
	Suppressed bool
	Route      Route
	Reason     string
	CreatedAt  time.Time
}

// IsUsed reports whether the alert concerns a secondhand listing.
func (a Alert) IsUsed() bool {
	return a.Decision.Observation.Condition == ConditionUsed
}
