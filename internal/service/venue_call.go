package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/GoPolymarket/venuegate/internal/config"
	"github.com/GoPolymarket/venuegate/internal/pkg/metrics"
	"github.com/GoPolymarket/venuegate/internal/pkg/retry"
)

// RetryPolicy builds the venue call policy from configuration.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	p := retry.Default()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(cfg.BaseDelayMs) * time.Millisecond
	}
	if cfg.CallTimeoutMs > 0 {
		p.AttemptTimeout = time.Duration(cfg.CallTimeoutMs) * time.Millisecond
	}
	return p
}

// callVenue runs fn under p and counts every attempt by outcome.
func callVenue[T any](ctx context.Context, p retry.Policy, log *slog.Logger, venue, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	prev := p.OnRetry
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Warn("retrying venue call", "venue", venue, "op", op, "attempt", attempt, "delay", delay, "error", err)
		if prev != nil {
			prev(attempt, delay, err)
		}
	}
	return retry.Do(ctx, p, func(ctx context.Context) (T, error) {
		res, err := fn(ctx)
		metrics.ConnectorAttempts.WithLabelValues(venue, op, attemptOutcome(err)).Inc()
		return res, err
	})
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case retry.IsRetryable(err):
		return "transient"
	default:
		return "rejected"
	}
}
