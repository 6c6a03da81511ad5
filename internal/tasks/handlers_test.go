package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/lock"
	"github.com/noah-isme/storefront-bff/internal/session"
)

type stubBackend struct {
	markErr   error
	marked    []backend.MarkCouponUsedRequest
	verify    *backend.VerifyResult
	verifyErr error
}

func (s *stubBackend) MarkCouponUsed(_ context.Context, req backend.MarkCouponUsedRequest) error {
	s.marked = append(s.marked, req)
	return s.markErr
}

func (s *stubBackend) VerifyPayment(context.Context, backend.VerifyRequest) (*backend.VerifyResult, error) {
	return s.verify, s.verifyErr
}

func newHandler(t *testing.T, back *stubBackend) (*Handler, *session.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := &session.Store{
		Client: client,
		Locker: &lock.Locker{Client: client, Prefix: "lock"},
		TTL:    time.Hour,
	}
	return &Handler{Backend: back, Sessions: store, Logger: zerolog.Nop()}, store
}

func mustTask(t *testing.T, taskType string, payload any) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(taskType, data)
}

func TestCouponSettleSuccess(t *testing.T) {
	back := &stubBackend{}
	h, _ := newHandler(t, back)

	err := h.HandleCouponSettle(context.Background(), mustTask(t, TypeCouponSettle, CouponSettlePayload{
		CouponID: "c-1", Code: "WELCOME10", UserID: "u-1", OrderID: "ord-1", DiscountAmount: 400,
	}))
	require.NoError(t, err)
	require.Len(t, back.marked, 1)
	assert.Equal(t, "WELCOME10", back.marked[0].Code)
	assert.Equal(t, int64(400), back.marked[0].DiscountAmount)
}

func TestCouponSettleTransientFailureRetries(t *testing.T) {
	back := &stubBackend{markErr: backend.ErrUnavailable}
	h, _ := newHandler(t, back)

	err := h.HandleCouponSettle(context.Background(), mustTask(t, TypeCouponSettle, CouponSettlePayload{Code: "X"}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry, "transient failures must be retried")
}

func TestCouponSettleRejectionSkipsRetry(t *testing.T) {
	back := &stubBackend{markErr: &backend.RejectedError{Code: "ALREADY_USED", Message: "already used"}}
	h, _ := newHandler(t, back)

	err := h.HandleCouponSettle(context.Background(), mustTask(t, TypeCouponSettle, CouponSettlePayload{Code: "X"}))
	assert.ErrorIs(t, err, asynq.SkipRetry, "a definitive rejection is never retried")
}

func TestReconcileConfirmsSuccess(t *testing.T) {
	back := &stubBackend{verify: &backend.VerifyResult{Verified: true, OrderID: "backend-1"}}
	h, store := newHandler(t, back)

	sess, err := store.Create(context.Background(), "u-1", nil)
	require.NoError(t, err)

	err = h.HandlePaymentReconcile(context.Background(), mustTask(t, TypePaymentReconcile, PaymentReconcilePayload{
		SessionID: sess.ID, OrderID: "ord-1", PaymentID: "pay-1",
	}))
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.PaymentSuccess, stored.PaymentState)
}

func TestReconcileFlipsFailedCharge(t *testing.T) {
	back := &stubBackend{verifyErr: &backend.RejectedError{Code: "PAYMENT_FAILED", Message: "charge declined"}}
	h, store := newHandler(t, back)

	sess, err := store.Create(context.Background(), "u-1", nil)
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), sess.ID, func(s *session.Session) error {
		s.PaymentState = session.PaymentSuccess // optimistic
		return nil
	}))

	err = h.HandlePaymentReconcile(context.Background(), mustTask(t, TypePaymentReconcile, PaymentReconcilePayload{
		SessionID: sess.ID, OrderID: "ord-1",
	}))
	require.NoError(t, err)

	stored, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.PaymentFailed, stored.PaymentState)
	assert.Equal(t, "charge declined", stored.PaymentFailureReason)
}

func TestReconcileTransientErrorRetries(t *testing.T) {
	back := &stubBackend{verifyErr: backend.ErrUnavailable}
	h, _ := newHandler(t, back)

	err := h.HandlePaymentReconcile(context.Background(), mustTask(t, TypePaymentReconcile, PaymentReconcilePayload{
		SessionID: "s-1", OrderID: "ord-1",
	}))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestReconcileToleratesExpiredSession(t *testing.T) {
	back := &stubBackend{verify: &backend.VerifyResult{Verified: true}}
	h, _ := newHandler(t, back)

	err := h.HandlePaymentReconcile(context.Background(), mustTask(t, TypePaymentReconcile, PaymentReconcilePayload{
		SessionID: "gone", OrderID: "ord-1",
	}))
	assert.NoError(t, err, "an expired session is not a task failure")
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	h, _ := newHandler(t, &stubBackend{})
	err := h.HandleCouponSettle(context.Background(), asynq.NewTask(TypeCouponSettle, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
