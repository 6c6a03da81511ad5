package coupon

import (
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/storefront-bff/internal/backend"
)

// Kind discriminates the two discount formulas.
type Kind string

const (
	KindPercentage  Kind = "PERCENTAGE"
	KindFixedAmount Kind = "FIXED_AMOUNT"
)

// Eligibility rejection reasons, ordered by check priority.
var (
	ErrNotFound   = errors.New("coupon not found or inactive")
	ErrNotStarted = errors.New("coupon not yet valid")
	ErrExpired    = errors.New("coupon has expired")
	ErrExhausted  = errors.New("coupon usage limit reached")
	ErrMinOrder   = errors.New("minimum order amount not met")
)

// Coupon is a discount rule. Amounts are in minor units.
type Coupon struct {
	ID          string
	Code        string
	Kind        Kind
	Value       int64
	MinOrder    int64
	MaxDiscount int64
	UsageLimit  int
	UsedCount   int
	Active      bool
	ValidFrom   *time.Time
	ValidUntil  *time.Time
	Description string
}

// FromBackend converts the backend DTO into the domain shape.
func FromBackend(c backend.Coupon) Coupon {
	return Coupon{
		ID:          c.ID,
		Code:        strings.ToUpper(strings.TrimSpace(c.Code)),
		Kind:        Kind(strings.ToUpper(strings.TrimSpace(c.Kind))),
		Value:       c.Value,
		MinOrder:    c.MinOrder,
		MaxDiscount: c.MaxDiscount,
		UsageLimit:  c.UsageLimit,
		UsedCount:   c.UsedCount,
		Active:      c.Active,
		ValidFrom:   c.ValidFrom,
		ValidUntil:  c.ValidUntil,
		Description: c.Description,
	}
}

// Validate runs the eligibility checks in a fixed order and short-circuits on
// the first failure, so rejection reasons are deterministic.
func Validate(c Coupon, subtotal int64, now time.Time) error {
	if !c.Active {
		return ErrNotFound
	}
	if c.ValidFrom != nil && now.Before(*c.ValidFrom) {
		return ErrNotStarted
	}
	if c.ValidUntil != nil && now.After(*c.ValidUntil) {
		return ErrExpired
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return ErrExhausted
	}
	if subtotal < c.MinOrder {
		return ErrMinOrder
	}
	return nil
}

// Discount computes the discount amount for an eligible coupon. The result
// always satisfies 0 <= discount <= subtotal.
func Discount(c Coupon, subtotal int64) int64 {
	if subtotal <= 0 || c.Value <= 0 {
		return 0
	}
	var discount int64
	switch c.Kind {
	case KindPercentage:
		discount = subtotal * c.Value / 100
		if c.MaxDiscount > 0 && discount > c.MaxDiscount {
			discount = c.MaxDiscount
		}
	case KindFixedAmount:
		discount = c.Value
	default:
		return 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}
