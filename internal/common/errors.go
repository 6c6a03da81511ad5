package common

// Error codes carried in the JSON error envelope. The storefront switches on
// these, so they are part of the public contract: handlers map domain
// sentinels onto exactly one code and never invent ad-hoc strings.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL"

	CodeSessionNotFound = "SESSION_NOT_FOUND"

	CodeCouponInvalid          = "COUPON_INVALID"
	CodeCouponNotStarted       = "COUPON_NOT_STARTED"
	CodeCouponExpired          = "COUPON_EXPIRED"
	CodeCouponExhausted        = "COUPON_EXHAUSTED"
	CodeCouponMinOrder         = "COUPON_MIN_ORDER"
	CodeCouponCheckUnavailable = "COUPON_CHECK_UNAVAILABLE"

	CodeCartEmpty         = "CART_EMPTY"
	CodeQuoteRequired     = "QUOTE_REQUIRED"
	CodeQuoteSuperseded   = "QUOTE_SUPERSEDED"
	CodeMissingVariant    = "MISSING_VARIANT"
	CodeInvalidIdentifier = "INVALID_IDENTIFIER"

	CodePaymentInProgress  = "PAYMENT_IN_PROGRESS"
	CodePaymentUnavailable = "PAYMENT_UNAVAILABLE"
	CodeNoPendingPayment   = "NO_PENDING_PAYMENT"
	CodeBadSignature       = "BAD_SIGNATURE"
	CodeCallbackReplay     = "CALLBACK_REPLAY"
)
