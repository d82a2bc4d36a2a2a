// Package retry runs store transactions again on transient failures with
// capped exponential backoff and jitter on top of cenkalti/backoff.
// Callers always get the operation's own error back.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes when and how often to retry.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Jitter is the randomization factor in [0, 1].
	Jitter float64

	// RetryIf selects retryable errors. nil retries nothing.
	RetryIf func(error) bool

	// OnRetry runs before the wait that precedes attempt+1.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// Retrier executes operations under a Policy. It is safe for concurrent use:
// every Do gets its own backoff state.
type Retrier struct {
	policy Policy
}

// New creates a Retrier. Zero delays and multipliers take the defaults.
func New(p Policy) *Retrier {
	d := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = max(d.MaxDelay, p.InitialDelay)
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	p.Jitter = min(max(p.Jitter, 0), 1)
	return &Retrier{policy: p}
}

// StoreRetrier retries only errors classified by isTransient.
func StoreRetrier(maxAttempts int, initial, maxDelay time.Duration, isTransient func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(Policy{
		MaxAttempts:  maxAttempts,
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   2,
		Jitter:       0.2,
		RetryIf:      isTransient,
		OnRetry:      onRetry,
	})
}

// MaxAttempts returns the attempt limit.
func (r *Retrier) MaxAttempts() int {
	return r.policy.MaxAttempts
}

// Do calls operation until it succeeds, fails with a non-retryable error or
// the attempts run out. The operation's own error is returned, also when
// ctx ends during a wait.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		attempt int
		lastErr error
	)
	op := func() (struct{}, error) {
		attempt++
		err := operation(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		if r.policy.RetryIf == nil || !r.policy.RetryIf(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if r.policy.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, delay time.Duration) {
			r.policy.OnRetry(attempt, err, delay)
		}))
	}

	// Retry may return the Permanent wrapper or the context cause instead.
	if _, err := backoff.Retry(ctx, op, opts...); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func (r *Retrier) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialDelay
	b.MaxInterval = r.policy.MaxDelay
	b.Multiplier = r.policy.Multiplier
	b.RandomizationFactor = r.policy.Jitter
	b.Reset()
	return b
}
