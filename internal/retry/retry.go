// SPDX-License-Identifier: MIT

// Package retry executes operations with bounded retries and exponential
// backoff. The policy is mechanism only: whether an error is worth retrying
// is the caller's judgment, expressed through the shouldRetry predicate.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// ShouldRetry decides whether to retry after a failed attempt. attempt is
// zero-based. Returning false propagates the error immediately.
type ShouldRetry func(err error, attempt int) bool

// Policy holds retry parameters. The zero value is not usable; construct via
// NewPolicy or set all fields.
type Policy struct {
	MaxAttempts int           // total attempts, >= 1
	BaseDelay   time.Duration // delay before the first retry
	MaxDelay    time.Duration // cap for the backoff delay

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy returns a Policy with the given bounds.
func NewPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) Policy {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay}
}

// Delay returns the backoff delay after the given zero-based attempt:
// min(BaseDelay * 2^attempt, MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << uint(attempt)
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

func (p Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs op, retrying failures per the policy. A nil shouldRetry retries
// every error. The last error is returned once attempts are exhausted or the
// predicate declines.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), shouldRetry ShouldRetry) (T, error) {
	var zero T
	if p.MaxAttempts < 1 {
		return zero, fmt.Errorf("retry: MaxAttempts must be >= 1, got %d", p.MaxAttempts)
	}
	if shouldRetry == nil {
		shouldRetry = func(error, int) bool { return true }
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		out, err := op(ctx)
		attempts++
		if err == nil {
			return out, nil
		}
		lastErr = err

		if attempt >= p.MaxAttempts-1 || !shouldRetry(err, attempt) {
			break
		}
		if err := p.wait(ctx, p.Delay(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("after %d attempt(s): %w", attempts, lastErr)
}

// RetryableStatus reports whether an HTTP status code is worth retrying:
// 408, 429 and the transient 5xx family.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryableNetError reports whether err looks like a transient transport
// failure (timeout, refused/reset connection, DNS failure).
func IsRetryableNetError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
