package resilience

import (
	"context"
	"time"
)

// BackoffFunc returns the wait after failed attempt n (1-based).
type BackoffFunc func(attempt int) time.Duration

// Linear waits attempt × step, so the third wait is three steps long.
func Linear(step time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		return time.Duration(max(attempt, 1)) * step
	}
}

// Policy bounds the attempts made for one unit of work.
type Policy struct {
	// MaxAttempts counts the first call. Values below one mean one.
	MaxAttempts int
	// Backoff is the wait between attempts. Nil retries immediately.
	Backoff BackoffFunc
	// ShouldRetry filters retryable errors. Nil retries everything except
	// a PermanentError.
	ShouldRetry func(err error) bool
	// OnRetry runs before each wait with the failed attempt and its error.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy makes three attempts one, then two seconds apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Backoff: Linear(time.Second)}
}

// PolicyFromConfig builds a linear policy from configured attempts and step;
// non-positive values keep the defaults.
func PolicyFromConfig(maxAttempts, backoffStepMS int) Policy {
	p := DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if backoffStepMS > 0 {
		p.Backoff = Linear(time.Duration(backoffStepMS) * time.Millisecond)
	}
	return p
}

func (p Policy) retryable(err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return !IsPermanent(err)
}

// DoVal calls fn with attempt numbers 1..MaxAttempts until it succeeds. It
// stops early on a non-retryable error or when ctx is done, including during
// a backoff wait, and returns the last error fn produced.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		val, err := fn(ctx, attempt)
		if err == nil {
			return val, nil
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil || !p.retryable(err) {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		if p.Backoff == nil {
			continue
		}
		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			break
		}
	}
	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
