package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-bff/internal/auth"
	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/checkout"
	"github.com/noah-isme/storefront-bff/internal/common"
	"github.com/noah-isme/storefront-bff/internal/config"
	"github.com/noah-isme/storefront-bff/internal/coupon"
	"github.com/noah-isme/storefront-bff/internal/health"
	"github.com/noah-isme/storefront-bff/internal/lock"
	"github.com/noah-isme/storefront-bff/internal/obs"
	"github.com/noah-isme/storefront-bff/internal/payment"
	"github.com/noah-isme/storefront-bff/internal/pricing"
	"github.com/noah-isme/storefront-bff/internal/ratelimit"
	"github.com/noah-isme/storefront-bff/internal/resilience"
	"github.com/noah-isme/storefront-bff/internal/session"
	"github.com/noah-isme/storefront-bff/internal/shipping"
)

const serviceName = "storefront-bff"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracerConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.OTELEndpoint,
		Environment: cfg.AppEnv,
		SampleRatio: cfg.OTELSampleRatio,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Warn().Err(err).Msg("instrument redis tracing")
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB,
	})
	defer func() { _ = asynqClient.Close() }()

	httpMetrics := obs.NewHTTPMetrics(serviceName, obs.ParseBucketsCSV(cfg.MetricsBuckets), prometheus.DefaultRegisterer)
	obs.MustRegisterDomainMetrics(serviceName, prometheus.DefaultRegisterer)

	breaker := resilienceBreaker(cfg)
	commerce, err := backend.NewClient(backend.Options{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
		Breaker: breaker,
		Retry:   retryConfig(cfg),
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build backend client")
	}

	locker := &lock.Locker{Client: rdb, Prefix: "lock"}
	sessions := &session.Store{Client: rdb, Locker: locker, TTL: cfg.SessionTTL}

	calculator := &pricing.Calculator{
		Backend: commerce,
		Rules: pricing.FallbackRules{
			FreeShippingThreshold: cfg.FreeShippingThreshold,
			FlatShippingFee:       cfg.FlatShippingFee,
			Currency:              cfg.CurrencyCode,
		},
		Logger:   logger,
		Debounce: cfg.QuoteDebounceWindow,
	}
	coupons := &coupon.Service{Backend: commerce, Queue: asynqClient, Logger: logger}
	gateway := &payment.CallbackGateway{
		KeyID:     cfg.GatewayKeyID,
		KeySecret: cfg.GatewayKeySecret,
		OpenWait:  cfg.GatewayOpenWait,
	}
	orchestrator := &payment.Orchestrator{
		Sessions:      sessions,
		Backend:       commerce,
		Gateway:       gateway,
		Locker:        locker,
		Queue:         asynqClient,
		Logger:        logger,
		Currency:      cfg.CurrencyCode,
		LockTTL:       cfg.PaymentLockTTL,
		VerifyWaitMax: cfg.VerifyWaitMax,
	}
	countries := &shipping.CountryService{
		Backend:  commerce,
		Redis:    rdb,
		CacheTTL: cfg.CountriesCacheTTL,
		Logger:   logger,
	}

	handler := &checkout.Handler{
		Sessions:     sessions,
		Pricing:      calculator,
		Coupons:      coupons,
		Orchestrator: orchestrator,
		Gateway:      gateway,
		Countries:    countries,
		Redis:        rdb,
		ReplayTTL:    cfg.CallbackReplayTTL,
		Validate:     validator.New(),
		Logger:       logger,
	}
	healthHandler := &health.Handler{
		Redis: rdb,
		BackendProbe: func(ctx context.Context) error {
			_, err := commerce.ShippingCountries(ctx)
			return err
		},
		Logger: logger,
	}
	verifier := &auth.Verifier{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Logger:   logger,
	}

	submitLimiter, err := ratelimit.New(rdb, cfg.SubmitRateLimit, "rl:submit")
	if err != nil {
		logger.Fatal().Err(err).Msg("build rate limiter")
	}
	idem := common.Idem{R: rdb, TTL: cfg.IdempotencyTTL}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.TracingMiddleware(serviceName))
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(obs.HTTPObs(httpMetrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/checkout", func(r chi.Router) {
			r.Use(verifier.Middleware)
			handler.Routes(r)
			r.With(submitLimiter, idem.Middleware).
				Post("/sessions/{sessionID}/submit", handler.Submit)
		})
		r.Route("/gateway", handler.GatewayRoutes)
		r.Get("/shipping/countries", handler.ShippingCountries)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Submission blocks through the gateway handoff, so the write
		// timeout must exceed the open window.
		WriteTimeout: cfg.GatewayOpenWait + cfg.VerifyWaitMax + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Str("env", cfg.AppEnv).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

func resilienceBreaker(cfg *config.Config) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		MinRequests: cfg.CircuitMinReq,
		FailureRate: cfg.CircuitFailRate,
		OpenFor:     cfg.CircuitOpenFor,
	})
}

func retryConfig(cfg *config.Config) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		Base:        cfg.RetryBase,
		Jitter:      cfg.RetryJitter,
	}
}
