package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Policy bounds the retry behavior for one call site.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay, e.g. 0.1 for +/-10%
}

// DefaultPolicy matches the fixed policy every external call uses:
// 3 attempts, 1s base delay, 10s cap, +/-10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
}

// Do runs op up to p.MaxAttempts times, sleeping with exponential backoff
// and jitter between failures. The delay is a suspension point: it honors
// ctx cancellation. The last error is returned once attempts are exhausted.
func Do[T any](ctx context.Context, name string, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info("operation succeeded after retry", "operation", name, "attempt", attempt+1)
			}
			return result, nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return zero, pe.err
		}
		lastErr = err

		if attempt == p.MaxAttempts-1 {
			slog.Error("operation failed, giving up",
				"operation", name,
				"attempts", p.MaxAttempts,
				"error", err)
			break
		}

		delay := p.Delay(attempt)
		slog.Warn("operation failed, retrying",
			"operation", name,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; Do returns it immediately
// with the wrapper stripped.
func Permanent(err error) error {
	return &permanentError{err: err}
}

// Delay computes the backoff delay for a zero-based attempt index:
// min(base * 2^attempt, max), then +/- Jitter fraction at random.
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	capped := math.Min(base, float64(p.MaxDelay))
	if p.Jitter > 0 {
		capped += capped * p.Jitter * (rand.Float64()*2 - 1)
	}
	if capped < 0 {
		return 0
	}
	return time.Duration(capped)
}
