package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/GoPolymarket/venuegate/internal/pkg/apperrors"
	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
	maxDelay           = 24 * time.Hour
)

// Policy governs calls to a venue. Sleep and OnRetry are optional hooks.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// AttemptTimeout bounds each individual attempt; zero means no bound.
	AttemptTimeout time.Duration

	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(attempt int, delay time.Duration, err error)
}

func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
	}
}

// backOff yields BaseDelay, 2*BaseDelay, 4*BaseDelay... with no jitter, so
// attempt k waits BaseDelay * 2^(k-2), capped at a day.
func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxDelay
	b.Reset()
	return b
}

// Delay returns the wait before the given 1-based attempt.
// Attempt 1 runs immediately.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	b := p.backOff()
	var d time.Duration
	for i := 2; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Do runs op until it succeeds, returns a non-retryable error, or the policy
// is exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	b := p.backOff()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			d := b.NextBackOff()
			if p.OnRetry != nil {
				p.OnRetry(attempt, d, lastErr)
			}
			if err := sleep(ctx, d); err != nil {
				return zero, lastErr
			}
		}

		res, err := runAttempt(ctx, p.AttemptTimeout, op)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Class is the failure classification of a venue error.
type Class int

const (
	Transient Class = iota
	InsufficientBalance
	InvalidRequest
)

// Venues report permanent failures as free text; this is the only place that
// interprets that text.
var (
	balanceMarkers = []string{"insufficient funds", "insufficient balance"}
	invalidMarkers = []string{"invalid symbol", "invalid order"}
)

func Classify(err error) Class {
	if err == nil {
		return Transient
	}
	if apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		return InsufficientBalance
	}
	if apperrors.Is(err, apperrors.ErrValidation) {
		return InvalidRequest
	}
	msg := strings.ToLower(err.Error())
	for _, m := range balanceMarkers {
		if strings.Contains(msg, m) {
			return InsufficientBalance
		}
	}
	for _, m := range invalidMarkers {
		if strings.Contains(msg, m) {
			return InvalidRequest
		}
	}
	return Transient
}

func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) == Transient
}

func IsInsufficientBalance(err error) bool {
	return Classify(err) == InsufficientBalance
}
