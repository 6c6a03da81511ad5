package backend

import "time"

// TotalsItem is one cart line sent to the totals endpoint.
type TotalsItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// TotalsRequest asks the backend to price a cart.
type TotalsRequest struct {
	Items      []TotalsItem `json:"items"`
	CouponCode string       `json:"couponCode,omitempty"`
	Country    string       `json:"country,omitempty"`
}

// TotalsResult is the backend's priced cart, converted to minor units.
type TotalsResult struct {
	Subtotal          int64
	Discount          int64
	ShippingFee       int64
	Tax               int64
	TaxRateBps        int64
	GrandTotal        int64
	EstimatedDelivery string
}

// totalsPayload mirrors the wire shape with decimal-string amounts.
type totalsPayload struct {
	Subtotal          string `json:"subtotal"`
	Discount          string `json:"discount"`
	ShippingFee       string `json:"shippingFee"`
	Tax               string `json:"tax"`
	TaxRateBps        int64  `json:"taxRateBps"`
	GrandTotal        string `json:"grandTotal"`
	EstimatedDelivery string `json:"estimatedDelivery"`
}

// Coupon is the backend's coupon record.
type Coupon struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	Kind        string     `json:"kind"`
	Value       int64      `json:"value"`
	MinOrder    int64      `json:"minOrder"`
	MaxDiscount int64      `json:"maxDiscount"`
	UsageLimit  int        `json:"usageLimit"`
	UsedCount   int        `json:"usedCount"`
	Active      bool       `json:"active"`
	ValidFrom   *time.Time `json:"validFrom"`
	ValidUntil  *time.Time `json:"validUntil"`
	Description string     `json:"description"`
}

// ValidateCouponRequest asks the backend whether a coupon applies to a cart.
// The line items ride along so item-scoped eligibility rules can be applied
// server-side.
type ValidateCouponRequest struct {
	Code     string       `json:"code"`
	Subtotal string       `json:"subtotal"`
	Items    []TotalsItem `json:"items"`
	UserID   string       `json:"userId"`
}

// OrderItem is one normalized order line in the create-order payload.
// Identifiers and price are already canonical; Attributes carries only the
// keys derived from the variant title.
type OrderItem struct {
	ProductID  int64             `json:"productId"`
	VariantID  int64             `json:"variantId"`
	Quantity   int               `json:"quantity"`
	UnitPrice  int64             `json:"unitPrice"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// ShippingAddress is the destination recorded on the payment order.
type ShippingAddress struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// CreateOrderRequest asks the backend to open a payment order at the gateway.
// It carries everything the backend needs to record what was bought and where
// it ships, not just the charge amount.
type CreateOrderRequest struct {
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	Receipt         string            `json:"receipt"`
	Items           []OrderItem       `json:"items"`
	ShippingAddress ShippingAddress   `json:"shippingAddress"`
	CouponCode      string            `json:"couponCode,omitempty"`
	Notes           map[string]string `json:"notes,omitempty"`
}

// OrderRef identifies a payment order created at the gateway.
type OrderRef struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// VerifyRequest carries gateway handoff results for server-side verification.
type VerifyRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// VerifyResult is the backend's verdict on a payment. OrderID is the
// backend's internal order identifier, assigned on success.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
}

// MarkCouponUsedRequest records a coupon redemption after successful payment.
type MarkCouponUsedRequest struct {
	CouponID       string `json:"couponId"`
	Code           string `json:"code"`
	OrderID        string `json:"orderId"`
	UserID         string `json:"userId"`
	DiscountAmount int64  `json:"discountAmount"`
}

// Country is a shipping destination supported by the backend.
type Country struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
