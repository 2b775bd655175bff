package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func newTestBreaker(clk *fakeClock) *CircuitBreaker {
	return NewCircuitBreaker("jupiter", BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}, WithClock(clk.Now))
}

func TestBreakerOpensExactlyAtThreshold(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		assert.Equal(t, StateClosed, cb.State(), "after %d failures", i+1)
	}
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestBreakerSuccessDecaysFailureCount(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 3, stats.FailureCount)

	// two more failures reach the threshold again: 3 + 2 = 5
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerDecayFloorsAtZero(t *testing.T) {
	cb := newTestBreaker(newFakeClock())
	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, 0, cb.Stats().FailureCount)
}

func TestBreakerHalfOpenAfterResetTimeout(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(clk)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	clk.Advance(29 * time.Second)
	assert.False(t, cb.CanExecute())
	assert.Equal(t, int64(1000), cb.Stats().TimeUntilResetMs)

	clk.Advance(time.Second)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreakerHalfOpenSingleStrike(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(clk)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clk.Advance(30 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, int64(30000), cb.Stats().TimeUntilResetMs)
}

func TestBreakerHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(clk)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clk.Advance(31 * time.Second)

	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()

	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.FailureCount)
	assert.Zero(t, stats.SuccessCount)
}

func TestBreakerExecuteRejectsWhenOpen(t *testing.T) {
	clk := newFakeClock()
	cb := newTestBreaker(clk)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clk.Advance(10 * time.Second)

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, IsCircuitOpen(err))

	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, "jupiter", coe.Source)
	assert.Equal(t, 20*time.Second, coe.RetryAfter)
}

func TestBreakerExecuteRecordsOutcome(t *testing.T) {
	cb := newTestBreaker(newFakeClock())

	err := cb.Execute(context.Background(), func(context.Context) error { return errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, cb.Stats().FailureCount)

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, 0, cb.Stats().FailureCount)
}

func TestBreakerExecuteIgnoresCallerCancellation(t *testing.T) {
	cb := newTestBreaker(newFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, cb.Stats().FailureCount)
}

func TestBreakerExecuteIgnoresLocalRejection(t *testing.T) {
	cb := newTestBreaker(newFakeClock())
	throttled := LocalRejection(errors.New("rate limited"))

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return throttled })
		assert.True(t, IsLocalRejection(err))
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Stats().FailureCount)
}

func TestBreakerResetAndTransitions(t *testing.T) {
	clk := newFakeClock()
	var seen []string
	cb := NewCircuitBreaker("orca", BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second, SuccessThreshold: 1},
		WithClock(clk.Now),
		WithStateChange(func(name string, from, to State) {
			seen = append(seen, string(from)+">"+string(to))
		}))

	cb.RecordFailure()
	clk.Advance(time.Second)
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.Reset()

	assert.Equal(t, []string{
		"closed>open",
		"open>half-open",
		"half-open>closed",
		"closed>open",
		"open>closed",
	}, seen)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerDefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker("x", BreakerConfig{})
	assert.Equal(t, DefaultBreakerConfig(), cb.cfg)
}
