package coupon

import (
	"errors"
	"time"
)

// Suggestion is an applicable coupon annotated with its potential discount.
type Suggestion struct {
	Coupon            Coupon `json:"coupon"`
	PotentialDiscount int64  `json:"potentialDiscount"`
}

// Hint explains why a candidate is not yet applicable, with the amount still
// needed when the blocker is the minimum order.
type Hint struct {
	Coupon      Coupon `json:"coupon"`
	Reason      string `json:"reason"`
	AmountShort int64  `json:"amountShort,omitempty"`
}

// Ranked is the advisor's verdict over a candidate list.
type Ranked struct {
	Applicable []Suggestion `json:"applicable"`
	NotYet     []Hint       `json:"notYetApplicable"`
	Best       *Suggestion  `json:"best"`
}

// Rank filters candidates into applicable and not-yet-applicable sets and
// selects the best suggestion: the applicable coupon with the maximum
// potential discount, ties broken by first-seen order. Rank is read-only and
// idempotent; it reuses the eligibility checks except the per-user usage
// check, which needs order history the advisor does not have.
func Rank(candidates []Coupon, subtotal int64, now time.Time) Ranked {
	ranked := Ranked{
		Applicable: make([]Suggestion, 0, len(candidates)),
		NotYet:     make([]Hint, 0),
	}
	for _, candidate := range candidates {
		err := Validate(candidate, subtotal, now)
		if err != nil {
			hint := Hint{Coupon: candidate, Reason: err.Error()}
			if errors.Is(err, ErrMinOrder) {
				hint.AmountShort = candidate.MinOrder - subtotal
			}
			ranked.NotYet = append(ranked.NotYet, hint)
			continue
		}
		suggestion := Suggestion{
			Coupon:            candidate,
			PotentialDiscount: Discount(candidate, subtotal),
		}
		ranked.Applicable = append(ranked.Applicable, suggestion)
		if ranked.Best == nil || suggestion.PotentialDiscount > ranked.Best.PotentialDiscount {
			best := suggestion
			ranked.Best = &best
		}
	}
	return ranked
}
