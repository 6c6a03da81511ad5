package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/lock"
	"github.com/noah-isme/storefront-bff/internal/obs"
	"github.com/noah-isme/storefront-bff/internal/order"
	"github.com/noah-isme/storefront-bff/internal/session"
	"github.com/noah-isme/storefront-bff/internal/tasks"
)

// Submission errors surfaced to the checkout handlers.
var (
	// ErrPaymentInProgress rejects a second submission while one is live.
	ErrPaymentInProgress = errors.New("a payment is already in progress for this session")
	// ErrEmptyCart blocks submission of a session with no line items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrNoQuote blocks submission before a pricing snapshot exists.
	ErrNoQuote = errors.New("no pricing quote for this session")
	// ErrBackendUnavailable is a transient failure before any money moved;
	// the session returns to idle and the user may retry.
	ErrBackendUnavailable = errors.New("payment service unavailable, try again")
)

// Creator is the slice of the commerce client the orchestrator needs.
type Creator interface {
	CreatePaymentOrder(ctx context.Context, req backend.CreateOrderRequest) (*backend.OrderRef, error)
	VerifyPayment(ctx context.Context, req backend.VerifyRequest) (*backend.VerifyResult, error)
}

// Enqueuer matches asynq.Client for background task submission.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Result is the terminal outcome of one submission attempt.
type Result struct {
	State          session.PaymentState `json:"state"`
	GatewayOrderID string               `json:"gatewayOrderId,omitempty"`
	BackendOrderID string               `json:"backendOrderId,omitempty"`
	Reason         string               `json:"reason,omitempty"`
	// Reconciling is set when the outcome was resolved optimistically and
	// the backend will confirm asynchronously.
	Reconciling bool `json:"reconciling,omitempty"`
}

// Orchestrator drives a checkout session from submission to a terminal
// payment state. At most one live attempt per session is enforced with a
// Redis lock; every terminal path releases it.
type Orchestrator struct {
	Sessions      *session.Store
	Backend       Creator
	Gateway       Gateway
	Locker        *lock.Locker
	Queue         Enqueuer
	Logger        zerolog.Logger
	Currency      string
	LockTTL       time.Duration
	VerifyWaitMax time.Duration
}

// Submit runs the full state machine for one payment attempt. It blocks
// through the gateway handoff and verification, returning only on a terminal
// state or a pre-gateway error.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, userID string) (*Result, error) {
	sess, err := o.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, session.ErrNotFound
	}
	if len(sess.Items) == 0 {
		return nil, ErrEmptyCart
	}
	if sess.Pricing == nil {
		return nil, ErrNoQuote
	}
	// Normalization failures are fatal for submission; an unresolvable line
	// must block the order, never be dropped.
	items, err := order.Build(sess.Items)
	if err != nil {
		return nil, err
	}

	lockTTL := o.LockTTL
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	release, err := o.Locker.TryAcquire(ctx, "pay:"+sessionID, lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			o.count("rejected_in_progress")
			return nil, ErrPaymentInProgress
		}
		return nil, err
	}
	released := false
	releaseLock := func() {
		if released {
			return
		}
		released = true
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			o.Logger.Error().Str("session_id", sessionID).Err(err).Msg("release payment lock")
		}
	}
	defer releaseLock()

	if err := o.setState(ctx, sessionID, session.PaymentProcessing, ""); err != nil {
		return nil, err
	}

	createReq := backend.CreateOrderRequest{
		Amount:          sess.Pricing.GrandTotal,
		Currency:        o.Currency,
		Receipt:         sessionID,
		Items:           orderItems(items),
		ShippingAddress: backend.ShippingAddress(sess.Address),
		Notes: map[string]string{
			"sessionId": sessionID,
			"userId":    sess.UserID,
		},
	}
	if sess.Coupon != nil {
		createReq.CouponCode = sess.Coupon.Code
	}
	ref, err := o.Backend.CreatePaymentOrder(ctx, createReq)
	if err != nil {
		if rejected, ok := backend.AsRejection(err); ok {
			_ = o.setState(ctx, sessionID, session.PaymentFailed, rejected.Message)
			o.count(string(session.PaymentFailed))
			return &Result{State: session.PaymentFailed, Reason: rejected.Message}, nil
		}
		// Nothing was charged. Return to idle so the user can retry.
		_ = o.setState(ctx, sessionID, session.PaymentIdle, "")
		o.count("create_order_unavailable")
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if err := o.Sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.Payment = &session.PaymentSession{
			GatewayOrderID: ref.OrderID,
			Amount:         ref.Amount,
			Currency:       ref.Currency,
		}
		return nil
	}); err != nil {
		return nil, err
	}

	outcome, err := o.Gateway.Open(ctx, Handoff{
		SessionID: sessionID,
		OrderID:   ref.OrderID,
		Amount:    ref.Amount,
		Currency:  ref.Currency,
	})
	if err != nil {
		reason := "payment window could not be opened"
		if errors.Is(err, ErrHandoffExpired) {
			reason = "payment window expired"
		}
		_ = o.setState(ctx, sessionID, session.PaymentFailed, reason)
		o.count(string(session.PaymentFailed))
		return &Result{State: session.PaymentFailed, GatewayOrderID: ref.OrderID, Reason: reason}, nil
	}

	switch outcome.Kind {
	case OutcomeDismissed:
		// Deterministic: no ambiguous state between "opened" and "decided".
		_ = o.setState(ctx, sessionID, session.PaymentCancelled, "")
		o.count(string(session.PaymentCancelled))
		return &Result{State: session.PaymentCancelled, GatewayOrderID: ref.OrderID}, nil
	case OutcomeFailure:
		_ = o.setState(ctx, sessionID, session.PaymentFailed, outcome.Reason)
		o.count(string(session.PaymentFailed))
		return &Result{State: session.PaymentFailed, GatewayOrderID: ref.OrderID, Reason: outcome.Reason}, nil
	}

	return o.verify(ctx, sess, ref, outcome)
}

func (o *Orchestrator) verify(ctx context.Context, sess *session.Session, ref *backend.OrderRef, outcome Outcome) (*Result, error) {
	sessionID := sess.ID
	if err := o.Sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.PaymentState = session.PaymentVerifying
		if s.Payment != nil {
			s.Payment.PaymentID = outcome.PaymentID
			s.Payment.Signature = outcome.Signature
		}
		return nil
	}); err != nil {
		return nil, err
	}

	waitMax := o.VerifyWaitMax
	if waitMax <= 0 {
		waitMax = 20 * time.Second
	}
	verifyCtx, cancel := context.WithTimeout(ctx, waitMax)
	defer cancel()

	started := time.Now()
	result, err := o.Backend.VerifyPayment(verifyCtx, backend.VerifyRequest{
		OrderID:   ref.OrderID,
		PaymentID: outcome.PaymentID,
		Signature: outcome.Signature,
	})
	o.observeVerify(time.Since(started), err)

	if err != nil {
		if rejected, ok := backend.AsRejection(err); ok {
			_ = o.setState(ctx, sessionID, session.PaymentFailed, rejected.Message)
			o.count(string(session.PaymentFailed))
			return &Result{State: session.PaymentFailed, GatewayOrderID: ref.OrderID, Reason: rejected.Message}, nil
		}
		// Ambiguous outcome: the charge may have gone through. Resolve
		// optimistically and let the worker reconcile, rather than leaving
		// the user on an indefinite spinner.
		o.Logger.Warn().
			Str("session_id", sessionID).
			Str("order_id", ref.OrderID).
			Err(err).
			Msg("verification inconclusive, resolving optimistically")
		o.enqueueReconcile(ctx, sess, ref, outcome)
		o.settle(ctx, sess, ref.OrderID, "")
		o.count("success_optimistic")
		return &Result{State: session.PaymentSuccess, GatewayOrderID: ref.OrderID, Reconciling: true}, nil
	}

	if !result.Verified {
		reason := "payment verification failed"
		_ = o.setState(ctx, sessionID, session.PaymentFailed, reason)
		o.count(string(session.PaymentFailed))
		return &Result{State: session.PaymentFailed, GatewayOrderID: ref.OrderID, Reason: reason}, nil
	}

	o.settle(ctx, sess, ref.OrderID, result.OrderID)
	o.count(string(session.PaymentSuccess))
	return &Result{
		State:          session.PaymentSuccess,
		GatewayOrderID: ref.OrderID,
		BackendOrderID: result.OrderID,
	}, nil
}

// settle applies the success mutations: clear the cart and coupon, record the
// terminal state, and enqueue coupon settlement when one was applied.
func (o *Orchestrator) settle(ctx context.Context, sess *session.Session, orderID, backendOrderID string) {
	applied := sess.Coupon
	if err := o.Sessions.Update(ctx, sess.ID, func(s *session.Session) error {
		s.PaymentState = session.PaymentSuccess
		s.PaymentFailureReason = ""
		s.Items = nil
		s.Coupon = nil
		s.Pricing = nil
		if s.Payment != nil {
			s.Payment.BackendOrderID = backendOrderID
		}
		return nil
	}); err != nil {
		o.Logger.Error().Str("session_id", sess.ID).Err(err).Msg("record payment success")
	}

	if applied == nil {
		return
	}
	task, err := tasks.NewCouponSettleTask(tasks.CouponSettlePayload{
		CouponID:       applied.ID,
		Code:           applied.Code,
		UserID:         sess.UserID,
		OrderID:        orderID,
		DiscountAmount: applied.Discount,
	})
	if err != nil {
		o.Logger.Error().Str("code", applied.Code).Err(err).Msg("build coupon settle task")
		return
	}
	if _, err := o.Queue.EnqueueContext(ctx, task); err != nil {
		o.Logger.Error().Str("code", applied.Code).Err(err).Msg("enqueue coupon settle task")
	}
}

func (o *Orchestrator) enqueueReconcile(ctx context.Context, sess *session.Session, ref *backend.OrderRef, outcome Outcome) {
	task, err := tasks.NewPaymentReconcileTask(tasks.PaymentReconcilePayload{
		SessionID: sess.ID,
		OrderID:   ref.OrderID,
		PaymentID: outcome.PaymentID,
		Signature: outcome.Signature,
		UserID:    sess.UserID,
	})
	if err != nil {
		o.Logger.Error().Str("session_id", sess.ID).Err(err).Msg("build payment reconcile task")
		return
	}
	if _, err := o.Queue.EnqueueContext(ctx, task); err != nil {
		o.Logger.Error().Str("session_id", sess.ID).Err(err).Msg("enqueue payment reconcile task")
	}
}

// orderItems converts canonical order lines to their wire shape.
func orderItems(items []order.Item) []backend.OrderItem {
	out := make([]backend.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, backend.OrderItem(item))
	}
	return out
}

func (o *Orchestrator) setState(ctx context.Context, sessionID string, state session.PaymentState, reason string) error {
	return o.Sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.PaymentState = state
		s.PaymentFailureReason = reason
		return nil
	})
}

func (o *Orchestrator) count(state string) {
	if obs.PaymentSubmitTotal != nil {
		obs.PaymentSubmitTotal.WithLabelValues(state).Inc()
	}
}

func (o *Orchestrator) observeVerify(elapsed time.Duration, err error) {
	if obs.PaymentVerifyLatency == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if _, ok := backend.AsRejection(err); ok {
			result = "rejected"
		}
	}
	obs.PaymentVerifyLatency.WithLabelValues(result).Observe(obs.DurationMillis(elapsed))
}
