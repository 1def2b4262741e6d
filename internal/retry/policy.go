package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"docflow/internal/services"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 1 * time.Second
	defaultMaxDelay   = 8 * time.Second
)

// RetryAfterer is implemented by errors that carry a server-supplied delay,
// such as an HTTP 429 with a Retry-After header.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Policy describes how a single adapter call is retried. MaxRetries counts
// retries after the first attempt, so the default policy makes at most four
// calls separated by 1s, 2s and 4s.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Retryable      func(error) bool
	Sleeper        func(time.Duration)
	OnRetry        func(attempt int, delay time.Duration, err error)
}

// Default returns the standard adapter policy with the supplied per-attempt timeout.
func Default(attemptTimeout time.Duration) Policy {
	return Policy{
		MaxRetries:     defaultMaxRetries,
		BaseDelay:      defaultBaseDelay,
		MaxDelay:       defaultMaxDelay,
		AttemptTimeout: attemptTimeout,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := DoValue(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		return zero, errors.New("retry: nil context")
	}
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := runAttempt(ctx, p.AttemptTimeout, op, fn)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == attempts || !p.retryable(err) {
			break
		}
		delay := p.delayFor(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	if attempts > 1 && p.retryable(lastErr) {
		return zero, fmt.Errorf("%s: failed after %d attempts: %w", op, attempts, lastErr)
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	value, err := fn(attemptCtx)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, services.Wrap(services.ErrUpstreamTimeout, "", op, fmt.Sprintf("no response within %s", timeout), err)
	}
	return value, err
}

func (p Policy) retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return Recoverable(err)
}

// Recoverable is the default retry predicate: adapter errors flagged
// recoverable, attempt timeouts, and network timeouts.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if services.IsRecoverable(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

func (p Policy) delayFor(attempt int, err error) time.Duration {
	var hinted RetryAfterer
	if errors.As(err, &hinted) {
		if delay := hinted.RetryAfter(); delay > 0 {
			return p.capDelay(delay)
		}
	}
	return p.Backoff(attempt)
}

// Backoff returns the delay before retry number attempt (1-based):
// base, base*2, base*4, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	maxDelay := p.maxDelay()
	if attempt <= 0 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return p.capDelay(delay)
}

func (p Policy) maxDelay() time.Duration {
	if p.MaxDelay > 0 {
		return p.MaxDelay
	}
	return defaultMaxDelay
}

func (p Policy) capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay := p.maxDelay(); delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if p.Sleeper != nil {
		p.Sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
