package apiclient

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// RetryConfig configures retry behavior for transient request failures.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts after the
	// initial call.
	MaxRetries int
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration
	// BackoffMultiplier is the exponential growth factor.
	BackoffMultiplier float64
	// Jitter adds randomness to backoff (0.0 to 1.0).
	Jitter float64
	// RetryableStatusCodes are HTTP status codes that should be retried.
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns sensible defaults for retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,     // 429
			http.StatusInternalServerError, // 500
			http.StatusBadGateway,          // 502
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
		},
	}
}

// backoff returns the delay before the given retry attempt (1-based).
func (rc RetryConfig) backoff(attempt int) time.Duration {
	d := float64(rc.InitialBackoff) * math.Pow(rc.BackoffMultiplier, float64(attempt-1))
	if d > float64(rc.MaxBackoff) {
		d = float64(rc.MaxBackoff)
	}
	if rc.Jitter > 0 {
		d += d * rc.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// retryableStatus reports whether the status code should be retried.
func (rc RetryConfig) retryableStatus(code int) bool {
	for _, c := range rc.RetryableStatusCodes {
		if code == c {
			return true
		}
	}
	return false
}

// retryableError reports whether a transport error should be retried.
// Caller cancellation is never retried. A client-side timeout from the
// HTTP transport also surfaces as context.DeadlineExceeded, but with
// the caller's context still live; that is a network fault and enters
// the retry path.
func retryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// url.Error wraps most transport failures; treat the rest of them
	// as retryable network faults too.
	return true
}
