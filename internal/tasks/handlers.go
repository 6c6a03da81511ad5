package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/obs"
	"github.com/noah-isme/storefront-bff/internal/session"
)

// Backend is the slice of the commerce client the worker needs.
type Backend interface {
	MarkCouponUsed(ctx context.Context, req backend.MarkCouponUsedRequest) error
	VerifyPayment(ctx context.Context, req backend.VerifyRequest) (*backend.VerifyResult, error)
}

// Handler processes background tasks for the checkout flow.
type Handler struct {
	Backend  Backend
	Sessions *session.Store
	Logger   zerolog.Logger
}

// Register mounts all task handlers on the mux.
func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeCouponSettle, h.HandleCouponSettle)
	mux.HandleFunc(TypePaymentReconcile, h.HandlePaymentReconcile)
}

// HandleCouponSettle marks a coupon used after a verified payment. Transient
// backend failures are retried by asynq; business rejections are final.
func (h *Handler) HandleCouponSettle(ctx context.Context, task *asynq.Task) error {
	var payload CouponSettlePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode coupon settle payload: %v: %w", err, asynq.SkipRetry)
	}

	err := h.Backend.MarkCouponUsed(ctx, backend.MarkCouponUsedRequest{
		CouponID:       payload.CouponID,
		Code:           payload.Code,
		OrderID:        payload.OrderID,
		UserID:         payload.UserID,
		DiscountAmount: payload.DiscountAmount,
	})
	if err != nil {
		if rejected, ok := backend.AsRejection(err); ok {
			h.Logger.Error().
				Str("code", payload.Code).
				Str("order_id", payload.OrderID).
				Str("reason", rejected.Code).
				Msg("coupon settlement rejected by backend")
			if obs.CouponSettleTotal != nil {
				obs.CouponSettleTotal.WithLabelValues("rejected").Inc()
			}
			return fmt.Errorf("coupon settle rejected: %v: %w", rejected, asynq.SkipRetry)
		}
		if obs.CouponSettleTotal != nil {
			obs.CouponSettleTotal.WithLabelValues("retry").Inc()
		}
		return fmt.Errorf("coupon settle: %w", err)
	}
	if obs.CouponSettleTotal != nil {
		obs.CouponSettleTotal.WithLabelValues("ok").Inc()
	}
	h.Logger.Info().
		Str("code", payload.Code).
		Str("order_id", payload.OrderID).
		Msg("coupon settled")
	return nil
}

// HandlePaymentReconcile re-verifies a payment that was optimistically marked
// successful after a verification timeout. A definitive backend "no" flips
// the stored session to failed so the order-status view reflects reality.
func (h *Handler) HandlePaymentReconcile(ctx context.Context, task *asynq.Task) error {
	var payload PaymentReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payment reconcile payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := h.Backend.VerifyPayment(ctx, backend.VerifyRequest{
		OrderID:   payload.OrderID,
		PaymentID: payload.PaymentID,
		Signature: payload.Signature,
	})
	if err != nil {
		if rejected, ok := backend.AsRejection(err); ok {
			return h.markReconciled(ctx, payload, session.PaymentFailed, rejected.Message)
		}
		return fmt.Errorf("reconcile verify: %w", err)
	}
	if !result.Verified {
		return h.markReconciled(ctx, payload, session.PaymentFailed, "verification rejected on reconciliation")
	}
	return h.markReconciled(ctx, payload, session.PaymentSuccess, "")
}

func (h *Handler) markReconciled(ctx context.Context, payload PaymentReconcilePayload, state session.PaymentState, reason string) error {
	err := h.Sessions.Update(ctx, payload.SessionID, func(s *session.Session) error {
		s.PaymentState = state
		s.PaymentFailureReason = reason
		return nil
	})
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("update session %s: %w", payload.SessionID, err)
	}
	h.Logger.Info().
		Str("session_id", payload.SessionID).
		Str("order_id", payload.OrderID).
		Str("state", string(state)).
		Msg("payment reconciled")
	return nil
}
