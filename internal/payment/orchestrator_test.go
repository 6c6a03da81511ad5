package payment

import (
	"context"
	"sync"
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
	"github.com/noah-isme/storefront-bff/internal/pricing"
	"github.com/noah-isme/storefront-bff/internal/session"
	"github.com/noah-isme/storefront-bff/internal/tasks"
)

type stubCreator struct {
	mu        sync.Mutex
	orderRef  *backend.OrderRef
	createErr error
	verify    *backend.VerifyResult
	verifyErr error
	// verifyDelay simulates a slow verification endpoint.
	verifyDelay time.Duration
	created     int
	lastCreate  backend.CreateOrderRequest
}

func (s *stubCreator) CreatePaymentOrder(_ context.Context, req backend.CreateOrderRequest) (*backend.OrderRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	s.lastCreate = req
	return s.orderRef, s.createErr
}

func (s *stubCreator) VerifyPayment(ctx context.Context, _ backend.VerifyRequest) (*backend.VerifyResult, error) {
	if s.verifyDelay > 0 {
		select {
		case <-time.After(s.verifyDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.verify, s.verifyErr
}

func (s *stubCreator) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

// scriptedGateway resolves Open with a fixed outcome, optionally blocking
// until released so tests can exercise in-flight submissions.
type scriptedGateway struct {
	outcome Outcome
	err     error
	block   chan struct{}
	opened  chan struct{}
}

func (g *scriptedGateway) Open(ctx context.Context, _ Handoff) (Outcome, error) {
	if g.opened != nil {
		close(g.opened)
		g.opened = nil
	}
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}
	return g.outcome, g.err
}

type captureQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *captureQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{}, nil
}

func (q *captureQueue) typesSeen() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, task.Type())
	}
	return out
}

type fixture struct {
	orch    *Orchestrator
	store   *session.Store
	creator *stubCreator
	queue   *captureQueue
	sess    *session.Session
}

func newFixture(t *testing.T, gw Gateway, creator *stubCreator) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := &lock.Locker{Client: client, Prefix: "lock"}
	store := &session.Store{Client: client, Locker: locker, TTL: time.Hour}
	queue := &captureQueue{}

	sess, err := store.Create(context.Background(), "u-1", []session.LineItem{
		{ProductID: "101", VariantID: "7", Name: "Clear Armor", Category: "Phone Case", VariantTitle: "Pixel 9 / Blue", Quantity: 2, UnitPrice: "200.00"},
	})
	require.NoError(t, err)
	require.NoError(t, store.Update(context.Background(), sess.ID, func(s *session.Session) error {
		s.Pricing = &pricing.Snapshot{Subtotal: 40_000, GrandTotal: 40_900, Currency: "INR"}
		s.Coupon = &session.AppliedCoupon{ID: "c-1", Code: "WELCOME10", Discount: 4_000}
		return nil
	}))

	return &fixture{
		orch: &Orchestrator{
			Sessions:      store,
			Backend:       creator,
			Gateway:       gw,
			Locker:        locker,
			Queue:         queue,
			Logger:        zerolog.Nop(),
			Currency:      "INR",
			LockTTL:       time.Minute,
			VerifyWaitMax: 200 * time.Millisecond,
		},
		store:   store,
		creator: creator,
		queue:   queue,
		sess:    sess,
	}
}

func okCreator() *stubCreator {
	return &stubCreator{
		orderRef: &backend.OrderRef{OrderID: "ord-1", Amount: 40_900, Currency: "INR"},
		verify:   &backend.VerifyResult{Verified: true, OrderID: "backend-1"},
	}
}

func TestSubmitVerifiedSuccess(t *testing.T) {
	gw := &scriptedGateway{outcome: Outcome{Kind: OutcomeSuccess, PaymentID: "pay-1", Signature: "sig"}}
	f := newFixture(t, gw, okCreator())

	result, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, session.PaymentSuccess, result.State)
	assert.Equal(t, "backend-1", result.BackendOrderID)
	assert.False(t, result.Reconciling)

	stored, err := f.store.Get(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.PaymentSuccess, stored.PaymentState)
	assert.Empty(t, stored.Items, "cart is cleared on success")
	assert.Nil(t, stored.Coupon, "applied coupon is cleared on success")

	assert.Equal(t, []string{tasks.TypeCouponSettle}, f.queue.typesSeen())
}

func TestCreateOrderCarriesNormalizedOrder(t *testing.T) {
	gw := &scriptedGateway{outcome: Outcome{Kind: OutcomeSuccess, PaymentID: "pay-1", Signature: "sig"}}
	f := newFixture(t, gw, okCreator())
	require.NoError(t, f.store.Update(context.Background(), f.sess.ID, func(s *session.Session) error {
		s.Address = session.Address{
			FullName: "Asha Rao", Line1: "12 MG Road", City: "Bengaluru",
			State: "KA", PostalCode: "560001", Country: "IN", Phone: "+91-900000000",
		}
		return nil
	}))

	_, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	require.NoError(t, err)

	req := f.creator.lastCreate
	assert.Equal(t, int64(40_900), req.Amount)
	assert.Equal(t, "INR", req.Currency)
	require.Len(t, req.Items, 1, "the normalized order lines reach the backend")
	assert.Equal(t, int64(101), req.Items[0].ProductID)
	assert.Equal(t, int64(7), req.Items[0].VariantID)
	assert.Equal(t, int64(20_000), req.Items[0].UnitPrice)
	assert.Equal(t, map[string]string{"phoneModel": "Pixel 9", "color": "Blue"}, req.Items[0].Attributes)
	assert.Equal(t, "Bengaluru", req.ShippingAddress.City)
	assert.Equal(t, "IN", req.ShippingAddress.Country)
	assert.Equal(t, "WELCOME10", req.CouponCode)
	assert.Equal(t, "u-1", req.Notes["userId"])
}

func TestSecondSubmitRejectedWhileInFlight(t *testing.T) {
	block := make(chan struct{})
	opened := make(chan struct{})
	gw := &scriptedGateway{
		outcome: Outcome{Kind: OutcomeSuccess, PaymentID: "pay-1", Signature: "sig"},
		block:   block,
		opened:  opened,
	}
	f := newFixture(t, gw, okCreator())

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
		firstDone <- err
	}()
	<-opened

	_, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	assert.ErrorIs(t, err, ErrPaymentInProgress)
	assert.Equal(t, 1, f.creator.createdCount(), "no second gateway session is created")

	close(block)
	require.NoError(t, <-firstDone)
}

func TestDismissYieldsCancelledAndReleasesLock(t *testing.T) {
	gw := &scriptedGateway{outcome: Outcome{Kind: OutcomeDismissed}}
	f := newFixture(t, gw, okCreator())

	result, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, session.PaymentCancelled, result.State)

	stored, err := f.store.Get(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Equal(t, session.PaymentCancelled, stored.PaymentState)
	assert.NotEmpty(t, stored.Items, "dismissal changes no cart state")

	// The lock must be free: a fresh submission proceeds past acquisition.
	gw.outcome = Outcome{Kind: OutcomeDismissed}
	_, err = f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	assert.NoError(t, err)
}

func TestGatewayFailureSurfacesReason(t *testing.T) {
	gw := &scriptedGateway{outcome: Outcome{Kind: OutcomeFailure, Reason: "card declined"}}
	f := newFixture(t, gw, okCreator())

	result, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, session.PaymentFailed, result.State)
	assert.Equal(t, "card declined", result.Reason)
	assert.Empty(t, f.queue.typesSeen(), "no settlement on failure")
}

func TestVerificationTimeoutResolvesOptimistically(t *testing.T) {
	creator := okCreator()
	creator.verifyDelay = time.Second // beyond VerifyWaitMax
	gw := &scriptedGateway{outcome: Outcome{Kind: OutcomeSuccess, PaymentID: "pay-1", Signature: "sig"}}
	f := newFixture(t, gw, creator)

	result, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, session.PaymentSuccess, result.State)
	assert.True(t, result.Reconciling)

	stored, err := f.store.Get(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Items, "cart is cleared even on optimistic success")

	types := f.queue.typesSeen()
	assert.Contains(t, types, tasks.TypePaymentReconcile)
	assert.Contains(t, types, tasks.TypeCouponSettle)
}

func TestVerificationRejectionFails(t *testing.T) {
	creator := okCreator()
	creator.verify = nil
	creator.verifyErr = &backend.RejectedError{Code: "SIGNATURE_MISMATCH", Message: "signature mismatch"}
	gw := &scriptedGateway{outcome: Outcome{Kind: OutcomeSuccess, PaymentID: "pay-1", Signature: "bad"}}
	f := newFixture(t, gw, creator)

	result, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	require.NoError(t, err)
	assert.Equal(t, session.PaymentFailed, result.State)
	assert.Equal(t, "signature mismatch", result.Reason)

	stored, err := f.store.Get(context.Background(), f.sess.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Items, "a rejected payment leaves the cart intact")
}

func TestCreateOrderUnavailableReturnsToIdle(t *testing.T) {
	creator := &stubCreator{createErr: backend.ErrUnavailable}
	f := newFixture(t, &scriptedGateway{}, creator)

	_, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	stored, getErr := f.store.Get(context.Background(), f.sess.ID)
	require.NoError(t, getErr)
	assert.Equal(t, session.PaymentIdle, stored.PaymentState, "nothing charged, user may retry")
}

func TestSubmitGuards(t *testing.T) {
	f := newFixture(t, &scriptedGateway{}, okCreator())

	t.Run("wrong user", func(t *testing.T) {
		_, err := f.orch.Submit(context.Background(), f.sess.ID, "someone-else")
		assert.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("empty cart", func(t *testing.T) {
		require.NoError(t, f.store.Update(context.Background(), f.sess.ID, func(s *session.Session) error {
			s.Items = nil
			return nil
		}))
		_, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
		assert.ErrorIs(t, err, ErrEmptyCart)
	})
}

func TestSubmitBlockedByUnresolvableLineItem(t *testing.T) {
	f := newFixture(t, &scriptedGateway{}, okCreator())
	require.NoError(t, f.store.Update(context.Background(), f.sess.ID, func(s *session.Session) error {
		s.Items = append(s.Items, session.LineItem{ProductID: "102", VariantID: "default", Name: "Sticker", Quantity: 1, UnitPrice: "5.00"})
		return nil
	}))

	_, err := f.orch.Submit(context.Background(), f.sess.ID, "u-1")
	require.Error(t, err)
	assert.Equal(t, 0, f.creator.createdCount(), "normalization failures block submission before any backend call")
}
