package pricing

import "time"

// Item is a priced cart line in minor units.
type Item struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

// Snapshot is a complete pricing result. It is always replaced wholesale,
// never field-patched, so readers can't observe a half-updated quote.
type Snapshot struct {
	Subtotal          int64     `json:"subtotal"`
	Discount          int64     `json:"discount"`
	ShippingFee       int64     `json:"shippingFee"`
	Tax               int64     `json:"tax"`
	TaxRateBps        int64     `json:"taxRateBps"`
	GrandTotal        int64     `json:"grandTotal"`
	Currency          string    `json:"currency"`
	EstimatedDelivery string    `json:"estimatedDelivery,omitempty"`
	Fallback          bool      `json:"hasFallback"`
	ComputedAt        time.Time `json:"computedAt"`
}

// Subtotal sums quantity times unit price across all lines.
func Subtotal(items []Item) int64 {
	var total int64
	for _, item := range items {
		if item.Quantity <= 0 || item.UnitPrice <= 0 {
			continue
		}
		total += int64(item.Quantity) * item.UnitPrice
	}
	return total
}

// FallbackRules hold the deterministic local approximation used when the
// remote pricing service is unreachable.
type FallbackRules struct {
	FreeShippingThreshold int64
	FlatShippingFee       int64
	Currency              string
}

// Apply computes a fallback snapshot: flat shipping below the free-shipping
// threshold, zero at or above it, zero tax. The fallback flag is set so the
// caller can disclose degraded accuracy.
func (r FallbackRules) Apply(items []Item, discount int64, now time.Time) *Snapshot {
	subtotal := Subtotal(items)
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	var shipping int64
	if subtotal < r.FreeShippingThreshold {
		shipping = r.FlatShippingFee
	}
	grand := subtotal - discount + shipping
	if grand < 0 {
		grand = 0
	}
	return &Snapshot{
		Subtotal:    subtotal,
		Discount:    discount,
		ShippingFee: shipping,
		Tax:         0,
		TaxRateBps:  0,
		GrandTotal:  grand,
		Currency:    r.Currency,
		Fallback:    true,
		ComputedAt:  now,
	}
}
