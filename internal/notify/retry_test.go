package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	op := WithRetry(func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, RetryPolicy{Attempts: 5, BaseDelay: time.Millisecond})

	if err := op(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestWithRetryReturnsLastError(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	op := WithRetry(func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("earlier")
		}
		return last
	}, RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond})

	err := op(context.Background())
	if !errors.Is(err, last) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestWithRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	op := WithRetry(func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	}, RetryPolicy{Attempts: 10, BaseDelay: time.Hour})

	err := op(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancel took effect, got %d", calls)
	}
}

func TestWithTimeoutExpires(t *testing.T) {
	op := WithTimeout(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond)

	err := op(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"auth 401", &relayError{status: 401}, CategoryAuth},
		{"auth 403", &relayError{status: 403}, CategoryAuth},
		{"rate limit", &relayError{status: 429}, CategoryRateLimit},
		{"relay 500", &relayError{status: 500}, CategoryUnknown},
		{"dial refused", errors.New("dial tcp 127.0.0.1:25: connection refused"), CategoryNetwork},
		{"opaque", errors.New("boom"), CategoryUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}
