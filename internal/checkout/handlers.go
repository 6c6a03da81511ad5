package checkout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/common"
	"github.com/noah-isme/storefront-bff/internal/coupon"
	"github.com/noah-isme/storefront-bff/internal/lock"
	"github.com/noah-isme/storefront-bff/internal/obs"
	"github.com/noah-isme/storefront-bff/internal/order"
	"github.com/noah-isme/storefront-bff/internal/payment"
	"github.com/noah-isme/storefront-bff/internal/pricing"
	"github.com/noah-isme/storefront-bff/internal/session"
	"github.com/noah-isme/storefront-bff/internal/shipping"
)

// Handler serves the checkout session REST surface.
type Handler struct {
	Sessions     *session.Store
	Pricing      *pricing.Calculator
	Coupons      *coupon.Service
	Orchestrator *payment.Orchestrator
	Gateway      *payment.CallbackGateway
	Countries    *shipping.CountryService
	Redis        *redis.Client
	ReplayTTL    time.Duration
	Validate     *validator.Validate
	Logger       zerolog.Logger
}

// Routes mounts the authenticated checkout endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/sessions", h.CreateSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Put("/items", h.UpdateItems)
		r.Put("/address", h.UpdateAddress)
		r.Post("/quote", h.Quote)
		r.Post("/coupon", h.ApplyCoupon)
		r.Delete("/coupon", h.RemoveCoupon)
		r.Get("/coupons/available", h.AvailableCoupons)
		r.Get("/payment", h.PaymentStatus)
	})
}

// GatewayRoutes mounts the unauthenticated gateway callback endpoints.
func (h *Handler) GatewayRoutes(r chi.Router) {
	r.Post("/callback/{sessionID}", h.GatewayCallback)
	r.Post("/failure/{sessionID}", h.GatewayFailure)
	r.Post("/dismiss/{sessionID}", h.GatewayDismiss)
}

type lineItemRequest struct {
	ProductID    string `json:"productId" validate:"required"`
	VariantID    string `json:"variantId"`
	Name         string `json:"name" validate:"required"`
	Category     string `json:"category"`
	VariantTitle string `json:"variantTitle"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
	UnitPrice    string `json:"unitPrice" validate:"required"`
}

type createSessionRequest struct {
	Items []lineItemRequest `json:"items" validate:"required,min=1,dive"`
}

type updateItemsRequest struct {
	Items []lineItemRequest `json:"items" validate:"required,min=1,dive"`
}

type addressRequest struct {
	FullName   string `json:"fullName" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone" validate:"required"`
}

type couponRequest struct {
	Code string `json:"code" validate:"required"`
}

type callbackRequest struct {
	PaymentID string `json:"paymentId" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

type failureRequest struct {
	Reason string `json:"reason"`
}

// CreateSession opens a checkout session for the authenticated user's cart.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "not authenticated", nil)
		return
	}
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.Sessions.Create(r.Context(), userID, toLineItems(req.Items))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusCreated, sess)
}

// GetSession returns the current session state.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	common.JSONData(w, http.StatusOK, sess)
}

// UpdateItems replaces the cart lines and reprices immediately: cart edits
// are discrete actions and are never debounced.
func (h *Handler) UpdateItems(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	var req updateItemsRequest
	if !h.decode(w, r, &req) {
		return
	}
	items := toLineItems(req.Items)
	if err := h.Sessions.Update(r.Context(), sess.ID, func(s *session.Session) error {
		s.Items = items
		return nil
	}); err != nil {
		h.writeError(w, err)
		return
	}
	h.requote(w, r, sess.ID)
}

// UpdateAddress stores the destination and schedules a debounced repricing,
// collapsing bursts of keystroke-driven edits into one backend call.
func (h *Handler) UpdateAddress(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !h.decode(w, r, &req) {
		return
	}
	addr := session.Address(req)
	if err := h.Sessions.Update(r.Context(), sess.ID, func(s *session.Session) error {
		s.Address = addr
		return nil
	}); err != nil {
		h.writeError(w, err)
		return
	}

	updated, err := h.Sessions.Get(r.Context(), sess.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	sessionID := sess.ID
	h.Pricing.QuoteDebounced(context.WithoutCancel(r.Context()), quoteRequest(updated), func(snap *pricing.Snapshot, err error) {
		if err != nil {
			h.Logger.Warn().Str("session_id", sessionID).Err(err).Msg("debounced quote failed")
			return
		}
		h.storeSnapshot(context.Background(), sessionID, snap)
	})
	common.JSONData(w, http.StatusAccepted, updated)
}

// Quote reprices the session immediately and returns the fresh snapshot.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	h.requote(w, r, sess.ID)
}

// ApplyCoupon validates the code and attaches it to the session, then
// reprices immediately.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	var req couponRequest
	if !h.decode(w, r, &req) {
		return
	}
	subtotal := sessionSubtotal(sess)
	applied, err := h.Coupons.Apply(r.Context(), sess.UserID, req.Code, subtotal, totalsItems(sess))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Sessions.Update(r.Context(), sess.ID, func(s *session.Session) error {
		s.Coupon = &session.AppliedCoupon{
			ID:          applied.Coupon.ID,
			Code:        applied.Coupon.Code,
			Kind:        string(applied.Coupon.Kind),
			Value:       applied.Coupon.Value,
			MaxDiscount: applied.Coupon.MaxDiscount,
			Discount:    applied.Discount,
		}
		return nil
	}); err != nil {
		h.writeError(w, err)
		return
	}
	h.requote(w, r, sess.ID)
}

// RemoveCoupon is a pure local reset: it never calls the backend and must not
// be conflated with marking the coupon used.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	if err := h.Sessions.Update(r.Context(), sess.ID, func(s *session.Session) error {
		s.Coupon = nil
		return nil
	}); err != nil {
		h.writeError(w, err)
		return
	}
	h.requote(w, r, sess.ID)
}

// AvailableCoupons ranks the user's candidate coupons against the session
// subtotal.
func (h *Handler) AvailableCoupons(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	ranked, err := h.Coupons.Available(r.Context(), sess.UserID, sessionSubtotal(sess))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, ranked)
}

// Submit drives the payment state machine to a terminal outcome.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "not authenticated", nil)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	result, err := h.Orchestrator.Submit(r.Context(), sessionID, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, result)
}

// PaymentStatus reports the current payment state of the session, which the
// order-status view polls after an optimistic success.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	payload := map[string]any{
		"state":  sess.PaymentState,
		"reason": sess.PaymentFailureReason,
	}
	if h.Gateway != nil && h.Gateway.KeyID != "" {
		// The widget needs the public key id client-side to open.
		payload["gatewayKeyId"] = h.Gateway.KeyID
	}
	if sess.Payment != nil {
		payload["gatewayOrderId"] = sess.Payment.GatewayOrderID
		payload["backendOrderId"] = sess.Payment.BackendOrderID
	}
	common.JSONData(w, http.StatusOK, payload)
}

// GatewayCallback resolves a pending handoff with a completed payment. The
// signature is HMAC-verified and a replay guard rejects duplicate deliveries.
func (h *Handler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req callbackRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !h.guardReplay(w, r, sessionID+"|"+req.PaymentID+"|"+req.Signature) {
		observeCallback("success", "replay")
		return
	}
	if err := h.Gateway.Complete(sessionID, req.PaymentID, req.Signature); err != nil {
		observeCallback("success", "rejected")
		h.writeError(w, err)
		return
	}
	observeCallback("success", "accepted")
	common.JSONData(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// GatewayFailure resolves a pending handoff with the gateway's reason.
func (h *Handler) GatewayFailure(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req failureRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		req.Reason = ""
	}
	reason := req.Reason
	if reason == "" {
		reason = "payment failed"
	}
	if err := h.Gateway.Fail(sessionID, reason); err != nil {
		observeCallback("failure", "rejected")
		h.writeError(w, err)
		return
	}
	observeCallback("failure", "accepted")
	common.JSONData(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// GatewayDismiss resolves a pending handoff as user-cancelled.
func (h *Handler) GatewayDismiss(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.Gateway.Dismiss(sessionID); err != nil {
		observeCallback("dismiss", "rejected")
		h.writeError(w, err)
		return
	}
	observeCallback("dismiss", "accepted")
	common.JSONData(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// ShippingCountries serves the cached destination list.
func (h *Handler) ShippingCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := h.Countries.Countries(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, countries)
}

func (h *Handler) requote(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := h.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	snap, err := h.Pricing.Quote(r.Context(), quoteRequest(sess))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.storeSnapshot(r.Context(), sessionID, snap)

	updated, err := h.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSONData(w, http.StatusOK, updated)
}

func (h *Handler) storeSnapshot(ctx context.Context, sessionID string, snap *pricing.Snapshot) {
	err := h.Sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.Pricing = snap
		return nil
	})
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		h.Logger.Error().Str("session_id", sessionID).Err(err).Msg("store pricing snapshot")
	}
}

func observeCallback(kind, result string) {
	if obs.GatewayCallbackTotal != nil {
		obs.GatewayCallbackTotal.WithLabelValues(kind, result).Inc()
	}
}

// guardReplay rejects a callback body that was already delivered.
func (h *Handler) guardReplay(w http.ResponseWriter, r *http.Request, fingerprint string) bool {
	if h.Redis == nil {
		return true
	}
	ttl := h.ReplayTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	key := "gw:cb:" + common.Sha256Hex(fingerprint)
	ok, err := h.Redis.SetNX(r.Context(), key, "seen", ttl).Result()
	if err != nil {
		h.Logger.Error().Err(err).Msg("callback replay guard unavailable")
		return true
	}
	if !ok {
		common.JSONError(w, http.StatusConflict, common.CodeCallbackReplay, "callback already processed", nil)
		return false
	}
	return true
}

// ownedSession loads the session and enforces ownership.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "not authenticated", nil)
		return nil, false
	}
	sess, err := h.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	if sess.UserID != userID {
		h.writeError(w, session.ErrNotFound)
		return nil, false
	}
	return sess, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := common.DecodeJSON(r, dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "malformed request body", nil)
		return false
	}
	if err := h.Validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeValidationFailed, "request validation failed", validationDetails(err))
		return false
	}
	return true
}

func validationDetails(err error) any {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return fields
}

// writeError maps domain errors onto the canonical error envelope.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeSessionNotFound, "checkout session not found", nil)
	case errors.Is(err, coupon.ErrNotFound):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeCouponInvalid, "coupon not found or inactive", nil)
	case errors.Is(err, coupon.ErrNotStarted):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeCouponNotStarted, "coupon is not yet valid", nil)
	case errors.Is(err, coupon.ErrExpired):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeCouponExpired, "coupon has expired", nil)
	case errors.Is(err, coupon.ErrExhausted):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeCouponExhausted, "coupon usage limit reached", nil)
	case errors.Is(err, coupon.ErrMinOrder):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeCouponMinOrder, "minimum order not met", nil)
	case errors.Is(err, coupon.ErrCheckUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, common.CodeCouponCheckUnavailable, "could not check coupons, try again", nil)
	case errors.Is(err, payment.ErrPaymentInProgress):
		common.JSONError(w, http.StatusConflict, common.CodePaymentInProgress, "a payment is already in progress", nil)
	case errors.Is(err, payment.ErrEmptyCart):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeCartEmpty, "cart is empty", nil)
	case errors.Is(err, payment.ErrNoQuote):
		common.JSONError(w, http.StatusUnprocessableEntity, common.CodeQuoteRequired, "request a quote before submitting", nil)
	case errors.Is(err, payment.ErrBackendUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, common.CodePaymentUnavailable, "payment service unavailable, try again", nil)
	case errors.Is(err, payment.ErrNoPendingHandoff):
		common.JSONError(w, http.StatusNotFound, common.CodeNoPendingPayment, "no payment awaiting this callback", nil)
	case errors.Is(err, payment.ErrBadSignature):
		common.JSONError(w, http.StatusBadRequest, common.CodeBadSignature, "callback signature mismatch", nil)
	case errors.Is(err, pricing.ErrSuperseded):
		common.JSONError(w, http.StatusConflict, common.CodeQuoteSuperseded, "a newer quote is in flight", nil)
	case errors.Is(err, lock.ErrHeld):
		common.JSONError(w, http.StatusConflict, common.CodePaymentInProgress, "a payment is already in progress", nil)
	default:
		var missing *order.MissingVariantError
		var invalid *order.InvalidIdentifierError
		var rejected *backend.RejectedError
		switch {
		case errors.As(err, &missing):
			common.JSONError(w, http.StatusUnprocessableEntity, common.CodeMissingVariant, missing.Error(), nil)
		case errors.As(err, &invalid):
			common.JSONError(w, http.StatusUnprocessableEntity, common.CodeInvalidIdentifier, invalid.Error(), nil)
		case errors.As(err, &rejected):
			common.JSONError(w, http.StatusUnprocessableEntity, rejected.Code, rejected.Message, nil)
		default:
			h.Logger.Error().Err(err).Msg("unhandled checkout error")
			common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "something went wrong", nil)
		}
	}
}

func toLineItems(reqs []lineItemRequest) []session.LineItem {
	items := make([]session.LineItem, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, session.LineItem(req))
	}
	return items
}

func quoteRequest(sess *session.Session) pricing.QuoteRequest {
	items := make([]pricing.Item, 0, len(sess.Items))
	for _, line := range sess.Items {
		price, err := common.ParseMinorUnits(line.UnitPrice)
		if err != nil {
			continue
		}
		items = append(items, pricing.Item{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: price,
		})
	}
	req := pricing.QuoteRequest{
		SessionID: sess.ID,
		Items:     items,
		Country:   sess.Address.Country,
	}
	if sess.Coupon != nil {
		req.CouponCode = sess.Coupon.Code
		req.Discount = coupon.Discount(coupon.Coupon{
			Kind:        coupon.Kind(sess.Coupon.Kind),
			Value:       sess.Coupon.Value,
			MaxDiscount: sess.Coupon.MaxDiscount,
			Active:      true,
		}, pricing.Subtotal(items))
	}
	return req
}

// totalsItems converts the session's cart lines to the shape the backend's
// coupon and totals endpoints accept.
func totalsItems(sess *session.Session) []backend.TotalsItem {
	items := make([]backend.TotalsItem, 0, len(sess.Items))
	for _, line := range sess.Items {
		items = append(items, backend.TotalsItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}
	return items
}

func sessionSubtotal(sess *session.Session) int64 {
	var subtotal int64
	for _, line := range sess.Items {
		price, err := common.ParseMinorUnits(line.UnitPrice)
		if err != nil {
			continue
		}
		subtotal += int64(line.Quantity) * price
	}
	return subtotal
}
