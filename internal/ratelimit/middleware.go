package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/noah-isme/storefront-bff/internal/common"
)

// New builds a rate-limiting middleware keyed by authenticated user when
// available, falling back to client IP. Rate is limiter notation, e.g. "10-M".
func New(client *redis.Client, rate, prefix string) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}

	var store limiter.Store
	if client != nil {
		store, err = sredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
		if err != nil {
			return nil, fmt.Errorf("create redis rate limit store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}
	instance := limiter.New(store, parsed)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := common.UserID(r.Context())
			if !ok || key == "" {
				key = common.ClientIP(r)
			}
			limiterCtx, err := instance.Get(r.Context(), key)
			if err != nil {
				// Fail open: a limiter outage must not take checkout down.
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limiterCtx.Limit))
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", limiterCtx.Remaining))
			if limiterCtx.Reached {
				common.JSONError(w, http.StatusTooManyRequests, common.CodeRateLimited, "too many requests, slow down", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
