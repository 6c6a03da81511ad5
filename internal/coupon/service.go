package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/common"
	"github.com/noah-isme/storefront-bff/internal/obs"
	"github.com/noah-isme/storefront-bff/internal/tasks"
)

// ErrCheckUnavailable means the coupon could not be checked right now. It is
// retryable and must not be presented as "coupon invalid".
var ErrCheckUnavailable = errors.New("could not check coupon, try again")

// Validator is the slice of the commerce client the coupon service needs.
type Validator interface {
	ValidateCoupon(ctx context.Context, req backend.ValidateCouponRequest) (*backend.Coupon, error)
	AvailableCoupons(ctx context.Context, userID string) ([]backend.Coupon, error)
}

// Enqueuer matches asynq.Client for background task submission.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Applied is a successfully validated coupon with its computed discount.
type Applied struct {
	Coupon   Coupon
	Discount int64
}

// Service validates coupons against the backend and settles redemptions
// asynchronously after payment.
type Service struct {
	Backend Validator
	Queue   Enqueuer
	Logger  zerolog.Logger
}

// Apply validates the code for the user's cart. The backend is authoritative
// for eligibility — the line items ride along so it can apply item-scoped
// rules — and the discount is recomputed locally with the same formula so the
// session never stores an amount the engine cannot reproduce.
func (s *Service) Apply(ctx context.Context, userID, code string, subtotal int64, items []backend.TotalsItem) (*Applied, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, ErrNotFound
	}

	dto, err := s.Backend.ValidateCoupon(ctx, backend.ValidateCouponRequest{
		Code:     normalized,
		Subtotal: common.FormatMinorUnits(subtotal),
		Items:    items,
		UserID:   userID,
	})
	if err != nil {
		if rejected, ok := backend.AsRejection(err); ok {
			if obs.CouponValidationTotal != nil {
				obs.CouponValidationTotal.WithLabelValues("rejected").Inc()
			}
			return nil, mapRejection(rejected)
		}
		if obs.CouponValidationTotal != nil {
			obs.CouponValidationTotal.WithLabelValues("unavailable").Inc()
		}
		s.Logger.Warn().Str("code", normalized).Err(err).Msg("coupon validation unavailable")
		return nil, fmt.Errorf("%w: %v", ErrCheckUnavailable, err)
	}

	c := FromBackend(*dto)
	if err := Validate(c, subtotal, time.Now().UTC()); err != nil {
		if obs.CouponValidationTotal != nil {
			obs.CouponValidationTotal.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}
	if obs.CouponValidationTotal != nil {
		obs.CouponValidationTotal.WithLabelValues("ok").Inc()
	}
	return &Applied{Coupon: c, Discount: Discount(c, subtotal)}, nil
}

// Available fetches the user's candidate coupons and ranks them locally
// against the current subtotal.
func (s *Service) Available(ctx context.Context, userID string, subtotal int64) (Ranked, error) {
	dtos, err := s.Backend.AvailableCoupons(ctx, userID)
	if err != nil {
		if _, ok := backend.AsRejection(err); ok {
			return Ranked{}, err
		}
		return Ranked{}, fmt.Errorf("%w: %v", ErrCheckUnavailable, err)
	}
	candidates := make([]Coupon, 0, len(dtos))
	for _, dto := range dtos {
		candidates = append(candidates, FromBackend(dto))
	}
	return Rank(candidates, subtotal, time.Now().UTC()), nil
}

// MarkUsed enqueues the redemption settlement. Fire-and-forget: enqueue
// failures are logged, never surfaced to the paying user.
func (s *Service) MarkUsed(ctx context.Context, payload tasks.CouponSettlePayload) {
	task, err := tasks.NewCouponSettleTask(payload)
	if err != nil {
		s.Logger.Error().Str("code", payload.Code).Err(err).Msg("build coupon settle task")
		return
	}
	if _, err := s.Queue.EnqueueContext(ctx, task); err != nil {
		s.Logger.Error().
			Str("code", payload.Code).
			Str("order_id", payload.OrderID).
			Err(err).
			Msg("enqueue coupon settle task")
	}
}

// mapRejection translates backend rejection codes into engine sentinels so
// handlers produce the same message for local and remote rejections.
func mapRejection(rejected *backend.RejectedError) error {
	switch rejected.Code {
	case "COUPON_NOT_FOUND", "COUPON_INACTIVE":
		return ErrNotFound
	case "COUPON_NOT_STARTED":
		return ErrNotStarted
	case "COUPON_EXPIRED":
		return ErrExpired
	case "COUPON_EXHAUSTED":
		return ErrExhausted
	case "COUPON_MIN_ORDER":
		return ErrMinOrder
	default:
		return rejected
	}
}
