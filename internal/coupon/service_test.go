package coupon

import (
	"context"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/tasks"
)

type stubValidator struct {
	coupon    *backend.Coupon
	err       error
	available []backend.Coupon
	gotReq    backend.ValidateCouponRequest
}

func (s *stubValidator) ValidateCoupon(_ context.Context, req backend.ValidateCouponRequest) (*backend.Coupon, error) {
	s.gotReq = req
	return s.coupon, s.err
}

func (s *stubValidator) AvailableCoupons(context.Context, string) ([]backend.Coupon, error) {
	return s.available, s.err
}

type stubQueue struct {
	enqueued []*asynq.Task
	err      error
}

func (s *stubQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.enqueued = append(s.enqueued, task)
	return &asynq.TaskInfo{}, s.err
}

func TestApplyComputesDiscountLocally(t *testing.T) {
	validator := &stubValidator{coupon: &backend.Coupon{
		Code: "welcome10", Kind: "percentage", Value: 10, Active: true,
	}}
	svc := &Service{Backend: validator, Queue: &stubQueue{}, Logger: zerolog.Nop()}

	items := []backend.TotalsItem{{ProductID: "101", Quantity: 2, UnitPrice: "20.00"}}
	applied, err := svc.Apply(context.Background(), "u-1", " welcome10 ", 4_000, items)
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", applied.Coupon.Code)
	assert.Equal(t, int64(400), applied.Discount)
	assert.Equal(t, "WELCOME10", validator.gotReq.Code, "code is normalized before the backend call")
	assert.Equal(t, "40.00", validator.gotReq.Subtotal)
	assert.Equal(t, items, validator.gotReq.Items, "line items reach the backend for item-scoped rules")
	assert.Equal(t, "u-1", validator.gotReq.UserID)
}

func TestApplyDistinguishesUnavailableFromInvalid(t *testing.T) {
	svc := &Service{
		Backend: &stubValidator{err: backend.ErrUnavailable},
		Queue:   &stubQueue{},
		Logger:  zerolog.Nop(),
	}
	_, err := svc.Apply(context.Background(), "u-1", "WELCOME10", 4_000, nil)
	assert.ErrorIs(t, err, ErrCheckUnavailable)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestApplyMapsBackendRejections(t *testing.T) {
	svc := &Service{
		Backend: &stubValidator{err: &backend.RejectedError{Code: "COUPON_EXPIRED", Message: "expired"}},
		Queue:   &stubQueue{},
		Logger:  zerolog.Nop(),
	}
	_, err := svc.Apply(context.Background(), "u-1", "OLD10", 4_000, nil)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestApplyRechecksEligibilityLocally(t *testing.T) {
	// Backend returned the coupon but the subtotal is below its minimum.
	validator := &stubValidator{coupon: &backend.Coupon{
		Code: "FIRST100", Kind: "FIXED_AMOUNT", Value: 10_000, MinOrder: 50_000, Active: true,
	}}
	svc := &Service{Backend: validator, Queue: &stubQueue{}, Logger: zerolog.Nop()}

	_, err := svc.Apply(context.Background(), "u-1", "FIRST100", 3_000, nil)
	assert.ErrorIs(t, err, ErrMinOrder)
}

func TestAvailableRanksCandidates(t *testing.T) {
	validator := &stubValidator{available: []backend.Coupon{
		{Code: "WELCOME10", Kind: "PERCENTAGE", Value: 10, Active: true},
		{Code: "FIRST100", Kind: "FIXED_AMOUNT", Value: 10_000, MinOrder: 50_000, Active: true},
	}}
	svc := &Service{Backend: validator, Queue: &stubQueue{}, Logger: zerolog.Nop()}

	ranked, err := svc.Available(context.Background(), "u-1", 60_000)
	require.NoError(t, err)
	require.NotNil(t, ranked.Best)
	assert.Equal(t, "FIRST100", ranked.Best.Coupon.Code)
}

func TestMarkUsedEnqueuesSettleTask(t *testing.T) {
	queue := &stubQueue{}
	svc := &Service{Backend: &stubValidator{}, Queue: queue, Logger: zerolog.Nop()}

	svc.MarkUsed(context.Background(), tasks.CouponSettlePayload{
		Code: "WELCOME10", UserID: "u-1", OrderID: "ord-1", DiscountAmount: 400,
	})
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, tasks.TypeCouponSettle, queue.enqueued[0].Type())
}

func TestMarkUsedSwallowsEnqueueErrors(t *testing.T) {
	queue := &stubQueue{err: assert.AnError}
	svc := &Service{Backend: &stubValidator{}, Queue: queue, Logger: zerolog.Nop()}

	// Must not panic or surface the error; settlement is fire-and-forget.
	svc.MarkUsed(context.Background(), tasks.CouponSettlePayload{Code: "WELCOME10"})
	assert.Len(t, queue.enqueued, 1)
}
