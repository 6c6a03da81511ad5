package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/storefront-bff/internal/backend"
	"github.com/noah-isme/storefront-bff/internal/config"
	"github.com/noah-isme/storefront-bff/internal/lock"
	"github.com/noah-isme/storefront-bff/internal/obs"
	"github.com/noah-isme/storefront-bff/internal/resilience"
	"github.com/noah-isme/storefront-bff/internal/session"
	"github.com/noah-isme/storefront-bff/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis")
	}

	commerce, err := backend.NewClient(backend.Options{
		BaseURL: cfg.BackendBaseURL,
		Timeout: cfg.BackendTimeout,
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			MinRequests: cfg.CircuitMinReq,
			FailureRate: cfg.CircuitFailRate,
			OpenFor:     cfg.CircuitOpenFor,
		}),
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.RetryMaxAttempts,
			Base:        cfg.RetryBase,
			Jitter:      cfg.RetryJitter,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build backend client")
	}

	sessions := &session.Store{
		Client: rdb,
		Locker: &lock.Locker{Client: rdb, Prefix: "lock"},
		TTL:    cfg.SessionTTL,
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB},
		asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{"default": 1},
			Logger:      asynqLogger{logger: logger},
			RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
				return time.Duration(n*n) * 10 * time.Second
			},
		},
	)

	mux := asynq.NewServeMux()
	handler := &tasks.Handler{Backend: commerce, Sessions: sessions, Logger: logger}
	handler.Register(mux)

	go func() {
		logger.Info().Msg("worker started")
		if err := srv.Run(mux); err != nil {
			logger.Error().Err(err).Msg("worker stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down worker")
	srv.Shutdown()
}
