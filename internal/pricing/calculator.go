package pricing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/common"
	"github.com/noah-isme/storefront-bff/internal/obs"
)

// ErrSuperseded marks a quote whose result arrived after a newer quote was
// triggered for the same session. The stale result must be discarded.
var ErrSuperseded = errors.New("quote superseded by a newer calculation")

// TotalsProvider prices a cart authoritatively.
type TotalsProvider interface {
	CartTotals(ctx context.Context, req backend.TotalsRequest) (*backend.TotalsResult, error)
}

// QuoteRequest describes one totals calculation.
type QuoteRequest struct {
	SessionID  string
	Items      []Item
	CouponCode string
	Country    string
	// Discount is the locally computed coupon discount, used only when the
	// remote calculator is unreachable and the fallback rules apply.
	Discount int64
}

// Calculator computes pricing snapshots, falling back to local rules when the
// backend is unreachable. Out-of-order responses are resolved with a
// per-session generation counter: only the latest triggered quote may apply.
type Calculator struct {
	Backend  TotalsProvider
	Rules    FallbackRules
	Logger   zerolog.Logger
	Debounce time.Duration

	mu          sync.Mutex
	generations map[string]uint64
	timers      map[string]*time.Timer
}

// Quote prices the cart immediately. Used for cart and coupon changes, which
// are discrete actions and must not be debounced.
func (c *Calculator) Quote(ctx context.Context, req QuoteRequest) (*Snapshot, error) {
	gen := c.nextGeneration(req.SessionID)
	return c.quote(ctx, req, gen)
}

// QuoteDebounced schedules a quote after the quiet window, collapsing bursts
// of destination edits into one backend call. Each call supersedes any quote
// still pending or in flight for the session; apply receives only results
// from the latest trigger.
func (c *Calculator) QuoteDebounced(ctx context.Context, req QuoteRequest, apply func(*Snapshot, error)) {
	gen := c.nextGeneration(req.SessionID)
	window := c.Debounce
	if window <= 0 {
		window = 400 * time.Millisecond
	}

	c.mu.Lock()
	if c.timers == nil {
		c.timers = make(map[string]*time.Timer)
	}
	if prev, ok := c.timers[req.SessionID]; ok {
		prev.Stop()
	}
	c.timers[req.SessionID] = time.AfterFunc(window, func() {
		c.mu.Lock()
		delete(c.timers, req.SessionID)
		c.mu.Unlock()
		snapshot, err := c.quote(ctx, req, gen)
		if errors.Is(err, ErrSuperseded) {
			return
		}
		apply(snapshot, err)
	})
	c.mu.Unlock()
}

func (c *Calculator) quote(ctx context.Context, req QuoteRequest, gen uint64) (*Snapshot, error) {
	result, err := c.Backend.CartTotals(ctx, toTotalsRequest(req))

	if c.currentGeneration(req.SessionID) != gen {
		if obs.PricingQuoteSuperseded != nil {
			obs.PricingQuoteSuperseded.Inc()
		}
		return nil, ErrSuperseded
	}

	if err != nil {
		if rejected, ok := backend.AsRejection(err); ok {
			return nil, rejected
		}
		c.Logger.Warn().
			Str("session_id", req.SessionID).
			Err(err).
			Msg("remote totals unavailable, applying fallback rules")
		if obs.PricingQuoteTotal != nil {
			obs.PricingQuoteTotal.WithLabelValues("fallback").Inc()
		}
		return c.Rules.Apply(req.Items, req.Discount, time.Now().UTC()), nil
	}

	if obs.PricingQuoteTotal != nil {
		obs.PricingQuoteTotal.WithLabelValues("remote").Inc()
	}
	grand := result.GrandTotal
	if grand < 0 {
		grand = 0
	}
	return &Snapshot{
		Subtotal:          result.Subtotal,
		Discount:          result.Discount,
		ShippingFee:       result.ShippingFee,
		Tax:               result.Tax,
		TaxRateBps:        result.TaxRateBps,
		GrandTotal:        grand,
		Currency:          c.Rules.Currency,
		EstimatedDelivery: result.EstimatedDelivery,
		Fallback:          false,
		ComputedAt:        time.Now().UTC(),
	}, nil
}

func (c *Calculator) nextGeneration(sessionID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations == nil {
		c.generations = make(map[string]uint64)
	}
	c.generations[sessionID]++
	return c.generations[sessionID]
}

func (c *Calculator) currentGeneration(sessionID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[sessionID]
}

// Forget drops per-session bookkeeping once a checkout session ends.
func (c *Calculator) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[sessionID]; ok {
		t.Stop()
		delete(c.timers, sessionID)
	}
	delete(c.generations, sessionID)
}

func toTotalsRequest(req QuoteRequest) backend.TotalsRequest {
	items := make([]backend.TotalsItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, backend.TotalsItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: common.FormatMinorUnits(item.UnitPrice),
		})
	}
	return backend.TotalsRequest{
		Items:      items,
		CouponCode: req.CouponCode,
		Country:    req.Country,
	}
}
