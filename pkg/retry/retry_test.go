package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	r := StoreRetrier(5, time.Millisecond, 2*time.Millisecond, isTransient, nil)

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	r := StoreRetrier(5, time.Millisecond, time.Millisecond, isTransient, nil)
	boom := errors.New("boom")

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_NilPredicateRetriesNothing(t *testing.T) {
	r := New(Policy{MaxAttempts: 3})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var retries []int
	var delays []time.Duration
	r := New(Policy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
		RetryIf:      isTransient,
		OnRetry: func(attempt int, _ error, d time.Duration) {
			retries = append(retries, attempt)
			delays = append(delays, d)
		},
	})

	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.Equal(t, errTransient, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestDo_ContextCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := StoreRetrier(3, time.Millisecond, time.Millisecond, isTransient, nil).
		Do(ctx, func(context.Context) error { called = true; return nil })

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestDo_ContextEndsDuringWaitKeepsOperationError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := StoreRetrier(5, time.Hour, time.Hour, isTransient, func(int, error, time.Duration) { cancel() })

	err := r.Do(ctx, func(context.Context) error { return errTransient })

	assert.Equal(t, errTransient, err)
}

func TestNew_Normalizes(t *testing.T) {
	r := New(Policy{MaxAttempts: 0, Jitter: 3})
	assert.Equal(t, 1, r.MaxAttempts())
	assert.Equal(t, 1.0, r.policy.Jitter)
	assert.Equal(t, DefaultPolicy().InitialDelay, r.policy.InitialDelay)
	assert.GreaterOrEqual(t, r.policy.MaxDelay, r.policy.InitialDelay)
}
