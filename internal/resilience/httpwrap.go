package resilience

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig tunes the retry loop around outbound HTTP calls.
type RetryConfig struct {
	MaxAttempts int
	Base        time.Duration
	// Jitter is the +/- fraction applied to each backoff step.
	Jitter float64
}

// HTTPClient wraps an http.Client with retries and an optional circuit breaker.
// Requests without a rewindable body (GetBody unset) are never retried.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Retry   RetryConfig
	Target  string
	Logger  zerolog.Logger
}

// Do executes the request, retrying transient failures with jittered
// exponential backoff. A response with status >= 500 counts as a failure;
// 4xx responses are returned to the caller without retry.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	attempts := c.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := c.Retry.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && req.Body != nil {
			if req.GetBody == nil {
				break
			}
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			req.Body = body
		}
		if c.Breaker != nil {
			if err := c.Breaker.Allow(req.Context()); err != nil {
				return nil, fmt.Errorf("%s: %w", c.Target, err)
			}
		}

		resp, err := c.client().Do(req)
		ok := err == nil && resp.StatusCode < 500
		if c.Breaker != nil {
			c.Breaker.Report(req.Context(), ok)
		}
		if ok {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%s responded %d", c.Target, resp.StatusCode)
			drain(resp)
		}
		c.Logger.Warn().
			Str("target", c.Target).
			Int("attempt", attempt).
			Err(lastErr).
			Msg("outbound request failed")

		if attempt == attempts {
			break
		}
		if err := sleepCtx(req.Context(), backoff(base, attempt, c.Retry.Jitter)); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	d := base << (attempt - 1)
	if jitter > 0 {
		delta := float64(d) * jitter
		d = time.Duration(float64(d) - delta + rand.Float64()*2*delta)
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
