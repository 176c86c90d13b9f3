package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Jitter: 0.1}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), "flaky", fastPolicy(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "broken", fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, fmt.Errorf("attempt %d failed", calls)
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if err.Error() != "attempt 3 failed" {
		t.Errorf("err = %q, want the last attempt's error", err)
	}
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	sentinel := errors.New("not found")
	calls := 0
	_, err := Do(context.Background(), "lookup", fastPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_HonorsContextCancellationDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Minute}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, "slow", p, func(ctx context.Context) (int, error) {
			return 0, errors.New("fail")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestDelay_ExponentialWithCapAndJitter(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Jitter: 0.1}

	cases := []struct {
		attempt int
		base    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 10 * time.Second}, // capped
	}
	for _, tc := range cases {
		d := p.Delay(tc.attempt)
		lo := time.Duration(float64(tc.base) * 0.9)
		hi := time.Duration(float64(tc.base) * 1.1)
		if d < lo || d > hi {
			t.Errorf("Delay(%d) = %v, want within [%v, %v]", tc.attempt, d, lo, hi)
		}
	}
}
