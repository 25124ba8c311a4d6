// SPDX-License-Identifier: MIT

package retry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// instantPolicy returns a policy whose sleeps record their duration instead
// of waiting.
func instantPolicy(maxAttempts int, base, max time.Duration, slept *[]time.Duration) Policy {
	p := NewPolicy(maxAttempts, base, max)
	p.sleep = func(_ context.Context, d time.Duration) error {
		if slept != nil {
			*slept = append(*slept, d)
		}
		return nil
	}
	return p
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	p := instantPolicy(3, time.Second, 10*time.Second, nil)

	calls := 0
	out, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	var slept []time.Duration
	p := instantPolicy(4, time.Second, 10*time.Second, &slept)

	calls := 0
	out, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errBoom
		}
		return 7, nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 7, out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	var slept []time.Duration
	p := instantPolicy(3, time.Second, 10*time.Second, &slept)

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom, "last error must be propagated")
	assert.Equal(t, 3, calls)
	assert.Len(t, slept, 2, "no sleep after the final attempt")
}

func TestDo_PredicateStopsRetry(t *testing.T) {
	p := instantPolicy(5, time.Second, 10*time.Second, nil)

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	}, func(error, int) bool { return false })

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls, "non-retryable error must not be retried")
}

func TestDo_PredicateSeesAttemptIndex(t *testing.T) {
	p := instantPolicy(5, time.Second, 10*time.Second, nil)

	var attempts []int
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errBoom
	}, func(_ error, attempt int) bool {
		attempts = append(attempts, attempt)
		return attempt < 2
	})

	require.Error(t, err)
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestDo_ContextCancelDuringSleep(t *testing.T) {
	p := NewPolicy(3, time.Minute, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		return 0, errBoom
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancel must interrupt the backoff sleep")
}

func TestDo_InvalidMaxAttempts(t *testing.T) {
	_, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		return 0, nil
	}, nil)
	assert.Error(t, err)
}

func TestPolicy_Delay(t *testing.T) {
	p := NewPolicy(10, time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryableStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, RetryableStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422, 501} {
		assert.False(t, RetryableStatus(code), "status %d", code)
	}
}

func TestIsRetryableNetError(t *testing.T) {
	assert.False(t, IsRetryableNetError(nil))
	assert.False(t, IsRetryableNetError(errBoom))
	assert.True(t, IsRetryableNetError(&net.DNSError{Err: "no such host"}))
	assert.True(t, IsRetryableNetError(syscall.ECONNREFUSED))
	assert.True(t, IsRetryableNetError(&net.OpError{Op: "dial", Err: syscall.ECONNRESET}))

	// A plain HTTP protocol error is not transport-level.
	assert.False(t, IsRetryableNetError(http.ErrServerClosed))
}

func TestIsRetryableNetError_Timeout(t *testing.T) {
	err := &net.OpError{Op: "read", Err: &timeoutErr{}}
	assert.True(t, IsRetryableNetError(err))
}

type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "i/o timeout" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }
