package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Failure categories used to drive user-facing troubleshooting guidance.
const (
	CategoryNetwork   = "network"
	CategoryTimeout   = "timeout"
	CategoryAuth      = "auth"
	CategoryRateLimit = "rate_limit"
	CategoryUnknown   = "unknown"
)

type Operation func(ctx context.Context) error

type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration // delay before attempt n is n * BaseDelay
}

// WithTimeout bounds a single execution of op. When the deadline passes the
// attempt is abandoned and counted as failed; the underlying call may still
// complete on the remote side.
func WithTimeout(op Operation, d time.Duration) Operation {
	return func(ctx context.Context) error {
		tctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return op(tctx)
	}
}

// WithRetry runs op up to policy.Attempts times with linearly increasing
// delay between attempts, returning the last error.
func WithRetry(op Operation, policy RetryPolicy) Operation {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return func(ctx context.Context) error {
		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			if attempt > 1 {
				select {
				case <-time.After(time.Duration(attempt-1) * policy.BaseDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			lastErr = op(ctx)
			if lastErr == nil {
				return nil
			}
		}
		return lastErr
	}
}

// relayError carries the HTTP status of a relay rejection for classification.
type relayError struct {
	status int
	body   string
}

func (e *relayError) Error() string {
	return fmt.Sprintf("relay rejected request: HTTP %d: %s", e.status, e.body)
}

// Classify maps an error to a failure category.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var re *relayError
	if errors.As(err, &re) {
		switch {
		case re.status == 401 || re.status == 403:
			return CategoryAuth
		case re.status == 429:
			return CategoryRateLimit
		default:
			return CategoryUnknown
		}
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CategoryTimeout
	case strings.Contains(msg, "dial") || strings.Contains(msg, "connection") || strings.Contains(msg, "no such host") || strings.Contains(msg, "eof"):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}
