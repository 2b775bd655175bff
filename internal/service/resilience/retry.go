package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig holds backoff settings.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	Jitter            bool
	// Retryable decides whether an error is worth another attempt.
	// Nil means DefaultRetryable.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the stock backoff settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
		Jitter:            true,
	}
}

const jitterFraction = 0.25

// RetryPolicy retries a single fallible operation with exponential backoff.
type RetryPolicy struct {
	cfg   RetryConfig
	sleep func(ctx context.Context, d time.Duration) error
	rnd   func() float64
}

// RetryOption configures a RetryPolicy.
type RetryOption func(*RetryPolicy)

// WithSleeper replaces the context-aware sleep, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(p *RetryPolicy) {
		if fn != nil {
			p.sleep = fn
		}
	}
}

// WithRandom replaces the jitter source; fn must return values in [0, 1).
func WithRandom(fn func() float64) RetryOption {
	return func(p *RetryPolicy) {
		if fn != nil {
			p.rnd = fn
		}
	}
}

// NewRetryPolicy creates a retry policy. Negative MaxRetries is treated as 0.
func NewRetryPolicy(cfg RetryConfig, opts ...RetryOption) *RetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = 1
	}
	if cfg.Retryable == nil {
		cfg.Retryable = DefaultRetryable
	}
	p := &RetryPolicy{
		cfg:   cfg,
		sleep: SleepWithContext,
		rnd:   rand.Float64,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Do runs op until it succeeds, the error is not retryable, retries are
// exhausted or ctx is done. The last operation error is returned.
func (p *RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !p.cfg.Retryable(err) || attempt >= p.cfg.MaxRetries {
			return err
		}
		if serr := p.sleep(ctx, p.Delay(attempt)); serr != nil {
			return err
		}
	}
}

// Delay returns the wait before retry number attempt (0-based):
// min(initial * multiplier^attempt, max), then +/-25% when jitter is on.
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.BackoffMultiplier, float64(attempt))
	if p.cfg.MaxDelay > 0 && d > float64(p.cfg.MaxDelay) {
		d = float64(p.cfg.MaxDelay)
	}
	if p.cfg.Jitter {
		d += d * jitterFraction * (2*p.rnd() - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ExecuteResilient wraps op in the breaker and that call in the retry loop,
// so every attempt re-checks the circuit.
func ExecuteResilient(ctx context.Context, retry *RetryPolicy, cb *CircuitBreaker, op func(context.Context) error) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		return cb.Execute(ctx, op)
	})
}

// SleepWithContext sleeps for d unless ctx finishes first.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
