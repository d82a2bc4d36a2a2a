package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time { return c.t }

func TestBreaker_OpensAfterThresholdAndRecovers(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var transitions []string
	cb := New("test",
		WithFailureThreshold(2),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithClock(clock.now),
		WithOnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}),
	)
	ctx := context.Background()
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clock.t = clock.t.Add(11 * time.Second)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
	assert.Equal(t, 3, cb.Counts().Requests)
}

func TestBreaker_FallbackWhenOpen(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("down") })

	called := false
	err := cb.ExecuteWithFallback(ctx, func(context.Context) error {
		t.Fatal("must not be called while open")
		return nil
	}, func(err error) error {
		called = true
		assert.ErrorIs(t, err, ErrCircuitOpen)
		return nil
	})

	assert.NoError(t, err)
	assert.True(t, called)
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	benign := errors.New("cache miss")
	cb := New("test", WithFailureThreshold(1), WithIsFailure(func(err error) bool {
		return !errors.Is(err, benign)
	}))

	_ = cb.Execute(context.Background(), func(context.Context) error { return benign })
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenNeedsSeveralProbes(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(3),
		WithTimeout(time.Second),
		WithClock(clock.now),
	)
	ctx := context.Background()
	ok := func(context.Context) error { return nil }

	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("down") })
	clock.t = clock.t.Add(2 * time.Second)

	// Sequential probes each free their slot.
	for i := 0; i < 3; i++ {
		assert.NoError(t, cb.Execute(ctx, ok), "probe %d", i)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreaker_HalfOpenLimitsConcurrentProbes(t *testing.T) {
	clock := &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New("test", WithFailureThreshold(1), WithTimeout(time.Second), WithClock(clock.now))
	ctx := context.Background()

	_ = cb.Execute(ctx, func(context.Context) error { return errors.New("down") })
	clock.t = clock.t.Add(2 * time.Second)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.ErrorIs(t, cb.Execute(ctx, func(context.Context) error { return nil }), ErrTooManyRequests)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))

	err := cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Counts().TotalSuccesses)
}

func TestBreaker_StaleResultIgnored(t *testing.T) {
	cb := New("test", WithFailureThreshold(1))
	ctx := context.Background()

	err := cb.Execute(ctx, func(ctx context.Context) error {
		// Opens the breaker while the outer call is still running.
		_ = cb.Execute(ctx, func(context.Context) error { return errors.New("down") })
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateOpen, cb.State())
}
