package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker refuses a request.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerConfig tunes the failure-ratio circuit breaker.
type BreakerConfig struct {
	// MinRequests is the minimum sample size before the failure ratio is evaluated.
	MinRequests int
	// FailureRate opens the circuit when failures/total reaches this ratio.
	FailureRate float64
	// OpenFor is how long the circuit stays open before a probe is allowed.
	OpenFor time.Duration
	// Window bounds how long a sample contributes to the ratio.
	Window time.Duration
}

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

type sample struct {
	at time.Time
	ok bool
}

// Breaker is a failure-ratio circuit breaker over a sliding time window.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    breakerState
	openedAt time.Time
	samples  []sample
	probing  bool
}

// NewBreaker builds a breaker with sane defaults for zero-value config fields.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRate <= 0 || cfg.FailureRate > 1 {
		cfg.FailureRate = 0.5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a request may proceed. In the half-open state only a
// single probe request is admitted until its result is reported.
func (b *Breaker) Allow(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenFor {
			return ErrCircuitOpen
		}
		b.state = stateHalfOpen
		b.probing = true
		return nil
	case stateHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Report records the outcome of an admitted request.
func (b *Breaker) Report(_ context.Context, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.state == stateHalfOpen {
		b.probing = false
		if ok {
			b.state = stateClosed
			b.samples = b.samples[:0]
			return
		}
		b.state = stateOpen
		b.openedAt = now
		return
	}

	b.samples = append(b.samples, sample{at: now, ok: ok})
	b.prune(now)

	total := len(b.samples)
	if total < b.cfg.MinRequests {
		return
	}
	failures := 0
	for _, s := range b.samples {
		if !s.ok {
			failures++
		}
	}
	if float64(failures)/float64(total) >= b.cfg.FailureRate {
		b.state = stateOpen
		b.openedAt = now
		b.samples = b.samples[:0]
	}
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	idx := 0
	for idx < len(b.samples) && b.samples[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		b.samples = append(b.samples[:0], b.samples[idx:]...)
	}
}
