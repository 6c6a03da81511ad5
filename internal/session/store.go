package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-bff/internal/lock"
	"github.com/noah-isme/storefront-bff/internal/pricing"
)

// ErrNotFound indicates the checkout session does not exist or has expired.
var ErrNotFound = errors.New("checkout session not found")

// PaymentState is the payment lifecycle position of a checkout session.
type PaymentState string

const (
	PaymentIdle       PaymentState = "idle"
	PaymentProcessing PaymentState = "processing"
	PaymentVerifying  PaymentState = "verifying"
	PaymentSuccess    PaymentState = "success"
	PaymentFailed     PaymentState = "failed"
	PaymentCancelled  PaymentState = "cancelled"
)

// Terminal reports whether the state ends the payment attempt.
func (s PaymentState) Terminal() bool {
	return s == PaymentSuccess || s == PaymentFailed || s == PaymentCancelled
}

// LineItem is a raw storefront cart line before normalization. The unit price
// is the storefront's decimal string; conversion to minor units happens when
// the order is built.
type LineItem struct {
	ProductID    string `json:"productId"`
	VariantID    string `json:"variantId"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	VariantTitle string `json:"variantTitle"`
	Quantity     int    `json:"quantity"`
	UnitPrice    string `json:"unitPrice"`
}

// Address is the shipping destination for a checkout session.
type Address struct {
	FullName   string `json:"fullName"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// AppliedCoupon captures the validated coupon attached to a session. Enough
// of the rule is kept to recompute the discount when the subtotal changes.
type AppliedCoupon struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Kind        string `json:"kind"`
	Value       int64  `json:"value"`
	MaxDiscount int64  `json:"maxDiscount,omitempty"`
	Discount    int64  `json:"discount"`
}

// PaymentSession tracks one gateway attempt. It is created per submission and
// discarded on any terminal outcome.
type PaymentSession struct {
	GatewayOrderID string `json:"gatewayOrderId"`
	PaymentID      string `json:"paymentId,omitempty"`
	Signature      string `json:"signature,omitempty"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	BackendOrderID string `json:"backendOrderId,omitempty"`
}

// Session is the single-owner state of one checkout attempt. All mutation
// goes through Store.Update so concurrent writers serialize.
type Session struct {
	ID                   string            `json:"id"`
	UserID               string            `json:"userId"`
	Items                []LineItem        `json:"items"`
	Address              Address           `json:"address"`
	Coupon               *AppliedCoupon    `json:"coupon,omitempty"`
	Pricing              *pricing.Snapshot `json:"pricing,omitempty"`
	PaymentState         PaymentState      `json:"paymentState"`
	PaymentFailureReason string            `json:"paymentFailureReason,omitempty"`
	Payment              *PaymentSession   `json:"payment,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// Store persists checkout sessions in Redis with a sliding TTL.
type Store struct {
	Client *redis.Client
	Locker *lock.Locker
	TTL    time.Duration
}

// Create persists a new session owned by userID.
func (s *Store) Create(ctx context.Context, userID string, items []LineItem) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Items:        items,
		PaymentState: PaymentIdle,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.Client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Update applies fn to the stored session under a short per-session lock, so
// concurrent writers never interleave a read-modify-write.
func (s *Store) Update(ctx context.Context, id string, fn func(*Session) error) error {
	return s.Locker.WithLock(ctx, "session:"+id, 5*time.Second, func(ctx context.Context) error {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		sess.UpdatedAt = time.Now().UTC()
		return s.put(ctx, sess)
	})
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.Client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if err := s.Client.Set(ctx, s.key(sess.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) key(id string) string {
	return "checkout:session:" + id
}
