package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// Gateway handoff errors.
var (
	// ErrWidgetUnavailable means the hosted payment page could not be
	// opened at all, a precondition failure distinct from a declined payment.
	ErrWidgetUnavailable = errors.New("payment widget unavailable")
	// ErrNoPendingHandoff means a callback arrived for a session with no
	// payment attempt awaiting resolution.
	ErrNoPendingHandoff = errors.New("no pending payment handoff for session")
	// ErrBadSignature means the completion callback failed HMAC verification.
	ErrBadSignature = errors.New("gateway signature mismatch")
	// ErrHandoffExpired means the user never completed the hosted flow
	// within the allowed window.
	ErrHandoffExpired = errors.New("payment handoff expired")
)

// OutcomeKind classifies how a gateway handoff ended.
type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailure   OutcomeKind = "failure"
	OutcomeDismissed OutcomeKind = "dismissed"
)

// Outcome is the result of one gateway handoff.
type Outcome struct {
	Kind      OutcomeKind
	PaymentID string
	Signature string
	Reason    string
}

// Handoff describes the payment attempt passed to the gateway.
type Handoff struct {
	SessionID string
	OrderID   string
	Amount    int64
	Currency  string
}

// Gateway opens a payment attempt and blocks until the user completes,
// fails, or dismisses the hosted flow.
type Gateway interface {
	Open(ctx context.Context, h Handoff) (Outcome, error)
}

// CallbackGateway resolves handoffs via HTTP callbacks from the hosted
// payment page. Open parks the attempt in a pending registry; the callback
// endpoints deliver the outcome to the waiting goroutine.
type CallbackGateway struct {
	// KeyID is the gateway's public key identifier; the storefront needs it
	// to open the hosted widget. KeySecret signs and verifies callbacks and
	// never leaves the server.
	KeyID     string
	KeySecret string
	OpenWait  time.Duration

	mu      sync.Mutex
	pending map[string]pendingHandoff
}

type pendingHandoff struct {
	orderID string
	ch      chan Outcome
}

// Open registers the handoff and waits for a callback, context cancellation,
// or expiry of the open window. At most one handoff may be pending per
// session; a duplicate Open reports the widget as unavailable.
func (g *CallbackGateway) Open(ctx context.Context, h Handoff) (Outcome, error) {
	ch := make(chan Outcome, 1)

	g.mu.Lock()
	if g.pending == nil {
		g.pending = make(map[string]pendingHandoff)
	}
	if _, exists := g.pending[h.SessionID]; exists {
		g.mu.Unlock()
		return Outcome{}, ErrWidgetUnavailable
	}
	g.pending[h.SessionID] = pendingHandoff{orderID: h.OrderID, ch: ch}
	g.mu.Unlock()

	defer g.drop(h.SessionID)

	wait := g.OpenWait
	if wait <= 0 {
		wait = 10 * time.Minute
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		return outcome, nil
	case <-timer.C:
		return Outcome{}, ErrHandoffExpired
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Complete resolves a pending handoff with a successful payment. The
// signature is verified against the registered order before delivery.
func (g *CallbackGateway) Complete(sessionID, paymentID, signature string) error {
	g.mu.Lock()
	handoff, ok := g.pending[sessionID]
	g.mu.Unlock()
	if !ok {
		return ErrNoPendingHandoff
	}
	if !g.VerifySignature(handoff.orderID, paymentID, signature) {
		return ErrBadSignature
	}
	return g.deliver(sessionID, Outcome{
		Kind:      OutcomeSuccess,
		PaymentID: paymentID,
		Signature: signature,
	})
}

// Fail resolves a pending handoff with a gateway-reported failure reason.
func (g *CallbackGateway) Fail(sessionID, reason string) error {
	return g.deliver(sessionID, Outcome{Kind: OutcomeFailure, Reason: reason})
}

// Dismiss resolves a pending handoff as cancelled by the user.
func (g *CallbackGateway) Dismiss(sessionID string) error {
	return g.deliver(sessionID, Outcome{Kind: OutcomeDismissed})
}

// VerifySignature checks the gateway's HMAC-SHA256 over "orderID|paymentID".
func (g *CallbackGateway) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(g.KeySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (g *CallbackGateway) deliver(sessionID string, outcome Outcome) error {
	g.mu.Lock()
	handoff, ok := g.pending[sessionID]
	if ok {
		delete(g.pending, sessionID)
	}
	g.mu.Unlock()
	if !ok {
		return ErrNoPendingHandoff
	}
	handoff.ch <- outcome
	return nil
}

func (g *CallbackGateway) drop(sessionID string) {
	g.mu.Lock()
	delete(g.pending, sessionID)
	g.mu.Unlock()
}
