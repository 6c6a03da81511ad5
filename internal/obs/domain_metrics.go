package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentSubmitTotal counts checkout submission outcomes by terminal state.
	PaymentSubmitTotal *prometheus.CounterVec
	// PaymentVerifyLatency records backend verification latency in milliseconds.
	PaymentVerifyLatency *prometheus.HistogramVec
	// CouponValidationTotal counts coupon validation outcomes.
	CouponValidationTotal *prometheus.CounterVec
	// PricingQuoteTotal counts totals quotes by source (remote or fallback).
	PricingQuoteTotal *prometheus.CounterVec
	// PricingQuoteSuperseded counts quotes dropped because a newer one was triggered.
	PricingQuoteSuperseded prometheus.Counter
	// GatewayCallbackTotal counts inbound gateway callbacks by kind and result.
	GatewayCallbackTotal *prometheus.CounterVec
	// CouponSettleTotal counts coupon mark-used settlement task outcomes.
	CouponSettleTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentSubmitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_submit_total",
			Help:      "Count of checkout submission outcomes by terminal state.",
		}, []string{"state"})
		PaymentVerifyLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_verify_duration_ms",
			Help:      "Latency of backend payment verification in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
		}, []string{"result"})
		CouponValidationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_validation_total",
			Help:      "Count of coupon validation outcomes.",
		}, []string{"result"})
		PricingQuoteTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quote_total",
			Help:      "Count of totals quotes by source.",
		}, []string{"source"})
		PricingQuoteSuperseded = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_quote_superseded_total",
			Help:      "Quotes discarded because a newer calculation was triggered.",
		})
		GatewayCallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_callback_total",
			Help:      "Count of inbound gateway callbacks by kind and result.",
		}, []string{"kind", "result"})
		CouponSettleTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_settle_total",
			Help:      "Count of coupon mark-used settlement task outcomes.",
		}, []string{"result"})

		mustRegisterCollector(reg, PaymentSubmitTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentSubmitTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentVerifyLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PaymentVerifyLatency = v
			}
		})
		mustRegisterCollector(reg, CouponValidationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponValidationTotal = v
			}
		})
		mustRegisterCollector(reg, PricingQuoteTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingQuoteTotal = v
			}
		})
		mustRegisterCollector(reg, PricingQuoteSuperseded, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PricingQuoteSuperseded = v
			}
		})
		mustRegisterCollector(reg, GatewayCallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				GatewayCallbackTotal = v
			}
		})
		mustRegisterCollector(reg, CouponSettleTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponSettleTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
