package engine

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy is the one retry/wait policy shared by the propagation
// waiter, the operation poller, and the convergence worker's transient-error
// retry. A multiplier of 1 yields fixed-interval polling.
type BackoffPolicy struct {
	// MaxAttempts bounds retry loops that consume the policy attempt by
	// attempt. Pollers that run against a deadline ignore it.
	MaxAttempts int `json:"max_attempts"`

	// Initial is the delay before the first retry.
	Initial time.Duration `json:"initial"`

	// Multiplier is the exponential growth factor applied per attempt.
	Multiplier float64 `json:"multiplier"`

	// MaxInterval caps the computed delay.
	MaxInterval time.Duration `json:"max_interval"`

	// Jitter is the random fraction (0..1) added to each delay to avoid
	// synchronized retries across workers.
	Jitter float64 `json:"jitter"`
}

// DefaultBackoff returns the policy used when the run config does not
// override retry tuning.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		Initial:     2 * time.Second,
		Multiplier:  2.0,
		MaxInterval: time.Minute,
		Jitter:      0.25,
	}
}

// Interval returns the delay before retry number attempt (zero-based).
func (p BackoffPolicy) Interval(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := time.Duration(float64(p.Initial) * math.Pow(mult, float64(attempt)))
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		delay = p.MaxInterval
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Float64() * p.Jitter * float64(delay))
	}
	return delay
}

// Sleep blocks for the attempt's delay or until the context is done. A
// cancelled context returns its error so run-level cancellation unblocks
// every in-flight wait promptly.
func (p BackoffPolicy) Sleep(ctx context.Context, attempt int) error {
	return sleepCtx(ctx, p.Interval(attempt))
}

// sleepCtx is a cancellable sleep.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
