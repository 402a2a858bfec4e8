package middlewares

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// DefaultTimeout is the default request timeout.
const DefaultTimeout = 30 * time.Second

// Timeout returns middleware that bounds the request context by timeout.
// A non-positive timeout falls back to DefaultTimeout.
//
// The handler is not interrupted; it observes ctx.Done() and is expected
// to return. Errors it returns after the deadline can be turned into a
// *TimeoutError with NewTimeoutError.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			ctx = context.WithValue(ctx, timeoutKey{}, timeout)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type timeoutKey struct{}

// NewTimeoutError returns a *TimeoutError when err stems from the deadline
// set by Timeout, and nil otherwise.
func NewTimeoutError(ctx context.Context, err error) *TimeoutError {
	d, ok := ctx.Value(timeoutKey{}).(time.Duration)
	if !ok || !errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return &TimeoutError{Duration: d}
}
