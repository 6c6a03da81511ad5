package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/storefront-bff/internal/common"
	"github.com/noah-isme/storefront-bff/internal/resilience"
)

// Client talks to the remote commerce backend over REST.
type Client struct {
	baseURL string
	http    *resilience.HTTPClient
	logger  zerolog.Logger
}

// Options configures a backend Client.
type Options struct {
	BaseURL string
	Timeout time.Duration
	Breaker *resilience.Breaker
	Retry   resilience.RetryConfig
	Logger  zerolog.Logger
}

// NewClient builds a backend client with tracing, retries and circuit breaking.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: base,
		logger:  opts.Logger,
		http: &resilience.HTTPClient{
			Client: &http.Client{
				Timeout:   timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker: opts.Breaker,
			Retry:   opts.Retry,
			Target:  "commerce-backend",
			Logger:  opts.Logger,
		},
	}, nil
}

// CartTotals asks the backend to price the cart authoritatively.
func (c *Client) CartTotals(ctx context.Context, req TotalsRequest) (*TotalsResult, error) {
	var payload totalsPayload
	if err := c.do(ctx, http.MethodPost, "/v1/cart/totals", req, &payload); err != nil {
		return nil, err
	}
	result := &TotalsResult{
		TaxRateBps:        payload.TaxRateBps,
		EstimatedDelivery: payload.EstimatedDelivery,
	}
	fields := []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"subtotal", payload.Subtotal, &result.Subtotal},
		{"discount", payload.Discount, &result.Discount},
		{"shippingFee", payload.ShippingFee, &result.ShippingFee},
		{"tax", payload.Tax, &result.Tax},
		{"grandTotal", payload.GrandTotal, &result.GrandTotal},
	}
	for _, f := range fields {
		amount, err := common.ParseMinorUnits(f.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: totals field %s=%q", ErrUnavailable, f.name, f.raw)
		}
		*f.dst = amount
	}
	return result, nil
}

// ValidateCoupon checks a coupon against the backend's authoritative rules.
func (c *Client) ValidateCoupon(ctx context.Context, req ValidateCouponRequest) (*Coupon, error) {
	var coupon Coupon
	if err := c.do(ctx, http.MethodPost, "/v1/coupons/validate", req, &coupon); err != nil {
		return nil, err
	}
	coupon.Code = strings.ToUpper(strings.TrimSpace(coupon.Code))
	return &coupon, nil
}

// AvailableCoupons lists coupons the given user may still redeem.
func (c *Client) AvailableCoupons(ctx context.Context, userID string) ([]Coupon, error) {
	path := "/v1/coupons/available?userId=" + url.QueryEscape(userID)
	var coupons []Coupon
	if err := c.do(ctx, http.MethodGet, path, nil, &coupons); err != nil {
		return nil, err
	}
	for i := range coupons {
		coupons[i].Code = strings.ToUpper(strings.TrimSpace(coupons[i].Code))
	}
	return coupons, nil
}

// MarkCouponUsed records a redemption after payment settles.
func (c *Client) MarkCouponUsed(ctx context.Context, req MarkCouponUsedRequest) error {
	return c.do(ctx, http.MethodPost, "/v1/coupons/redeem", req, nil)
}

// CreatePaymentOrder opens a gateway order for the given amount.
func (c *Client) CreatePaymentOrder(ctx context.Context, req CreateOrderRequest) (*OrderRef, error) {
	var ref OrderRef
	if err := c.do(ctx, http.MethodPost, "/v1/payments/orders", req, &ref); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ref.OrderID) == "" {
		return nil, fmt.Errorf("%w: empty order id in response", ErrUnavailable)
	}
	return &ref, nil
}

// VerifyPayment asks the backend to verify a completed gateway handoff.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	var result VerifyResult
	if err := c.do(ctx, http.MethodPost, "/v1/payments/verify", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ShippingCountries lists destinations the backend can ship to.
func (c *Client) ShippingCountries(ctx context.Context) ([]Country, error) {
	var countries []Country
	if err := c.do(ctx, http.MethodGet, "/v1/shipping/countries", nil, &countries); err != nil {
		return nil, err
	}
	return countries, nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %s %s responded %d", ErrUnavailable, method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var envelope errorEnvelope
		if decodeErr := json.NewDecoder(resp.Body).Decode(&envelope); decodeErr != nil || envelope.Error.Code == "" {
			return &RejectedError{
				Code:    "BACKEND_REJECTED",
				Message: http.StatusText(resp.StatusCode),
				Status:  resp.StatusCode,
			}
		}
		return &RejectedError{
			Code:    envelope.Error.Code,
			Message: envelope.Error.Message,
			Status:  resp.StatusCode,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %v", ErrUnavailable, method, path, err)
	}
	return nil
}
