package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/agentichat/agentichat/internal/agenterr"
)

// RetryPolicy controls the backoff schedule Do uses for retryable errors.
type RetryPolicy struct {
	MaxRetries int
	// BaseDelay is the delay before the first retry; each subsequent retry
	// doubles it, giving BaseDelay, 2*BaseDelay, 4*BaseDelay, ... (the
	// teacher's own loop used a flat per-attempt linear delay; exponential
	// backoff here follows the spec's 2s/4s/8s schedule instead).
	BaseDelay time.Duration
}

// DefaultRetryPolicy gives three retries (four attempts total) with 2s, 4s,
// 8s delays between them.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second}

// Do runs fn, retrying on errors classified as retryable by
// agenterr.Error.Retryable() up to policy.MaxRetries times, with delay
// policy.BaseDelay*2^attempt between attempts. It stops early if ctx is
// canceled during the wait. The last error is returned if every attempt
// fails.
func Do[T any](ctx context.Context, policy RetryPolicy, onRetry func(RetryInfo), fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
		if attempt >= policy.MaxRetries {
			break
		}

		wait := policy.BaseDelay * time.Duration(1<<uint(attempt))

		if onRetry != nil {
			onRetry(RetryInfo{Attempt: attempt + 1, MaxRetries: policy.MaxRetries, Delay: wait, Err: err})
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	return zero, lastErr
}

func isRetryable(err error) bool {
	var e *agenterr.Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	// Unclassified errors are treated as not retryable by default; callers
	// that want an HTTP error classified first should run it through
	// ClassifyHTTPError before handing it to Do.
	return false
}

// ClassifyHTTPError maps an HTTP status code and transport-level error into
// an agenterr.Error with the right Kind, so retry and logging logic never
// has to special-case raw status codes again.
func ClassifyHTTPError(status int, err error) error {
	if err != nil && status == 0 {
		return agenterr.Wrap(agenterr.Timeout, err, "request failed")
	}
	switch status {
	case http.StatusTooManyRequests:
		return agenterr.Newf(agenterr.RateLimit, "rate limited (HTTP %d)", status).WithHTTPStatus(status)
	case http.StatusUnauthorized, http.StatusForbidden:
		return agenterr.Newf(agenterr.AuthError, "authentication failed (HTTP %d)", status).WithHTTPStatus(status)
	case http.StatusNotFound:
		return agenterr.Newf(agenterr.ModelNotFound, "not found (HTTP %d)", status).WithHTTPStatus(status)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusInternalServerError:
		return agenterr.Newf(agenterr.ServerError, "server error (HTTP %d)", status).WithHTTPStatus(status)
	default:
		if status >= 500 {
			return agenterr.Newf(agenterr.ServerError, "server error (HTTP %d)", status).WithHTTPStatus(status)
		}
		return agenterr.Newf(agenterr.Unknown, "unexpected HTTP status %d", status).WithHTTPStatus(status)
	}
}
