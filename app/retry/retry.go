package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Backoff returns the wait before the next attempt. attempt is 1-based and
// refers to the attempt that just failed.
type Backoff func(attempt int, err error) time.Duration

type Policy struct {
	Attempts int
	Backoff  Backoff
	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

func Fixed(d time.Duration) Backoff {
	return func(int, error) time.Duration { return d }
}

func Linear(d time.Duration) Backoff {
	return func(attempt int, _ error) time.Duration { return d * time.Duration(attempt) }
}

func Exponential(base, max time.Duration) Backoff {
	return func(attempt int, _ error) time.Duration {
		delay := base
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= max {
				return max
			}
		}
		return min(delay, max)
	}
}

// OnRateLimit uses limited for errors that report RateLimited() == true.
func OnRateLimit(normal, limited Backoff) Backoff {
	return func(attempt int, err error) time.Duration {
		var rl interface{ RateLimited() bool }
		if errors.As(err, &rl) && rl.RateLimited() {
			return limited(attempt, err)
		}
		return normal(attempt, err)
	}
}

func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Fixed(0)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := backoff(attempt, lastErr)
		slog.Warn("Operation failed, retrying", "op", op, "attempt", attempt, "max_attempts", attempts, "delay", delay.String(), "error", lastErr)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
