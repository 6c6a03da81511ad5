package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type names routed through the asynq mux.
const (
	TypeCouponSettle     = "coupon:settle"
	TypePaymentReconcile = "payment:reconcile"
)

// CouponSettlePayload records a redemption to settle after verified payment.
type CouponSettlePayload struct {
	CouponID       string `json:"couponId"`
	Code           string `json:"code"`
	UserID         string `json:"userId"`
	OrderID        string `json:"orderId"`
	DiscountAmount int64  `json:"discountAmount"`
}

// PaymentReconcilePayload asks the worker to re-check an optimistic success.
type PaymentReconcilePayload struct {
	SessionID string `json:"sessionId"`
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
	UserID    string `json:"userId"`
}

// NewCouponSettleTask builds the settle task with retry headroom; failures are
// logged by the worker, never surfaced to the paying user.
func NewCouponSettleTask(payload CouponSettlePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal coupon settle payload: %w", err)
	}
	return asynq.NewTask(TypeCouponSettle, data, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// NewPaymentReconcileTask builds the reconcile task for an ambiguous
// verification outcome. A short delay gives the backend time to settle.
func NewPaymentReconcileTask(payload PaymentReconcilePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payment reconcile payload: %w", err)
	}
	return asynq.NewTask(TypePaymentReconcile, data,
		asynq.MaxRetry(10),
		asynq.Timeout(time.Minute),
		asynq.ProcessIn(30*time.Second),
	), nil
}
