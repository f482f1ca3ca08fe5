package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrBaseURLEmpty      = errors.New("wingman base URL is empty")
	ErrSessionIDRequired = errors.New("session id is required")
	ErrMalformedResponse = errors.New("malformed wingman response")
)

// HTTPStatusError is a non-2xx response from the server.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("wingman request failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a request that failed with err may succeed if
// repeated. Transport failures, timeouts, 408, 429 and 5xx are retryable;
// other statuses, malformed bodies and cancellation are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrBaseURLEmpty) || errors.Is(err, ErrSessionIDRequired) {
		return false
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusRequestTimeout,
			httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	// Remaining errors come from the transport (refused, reset, DNS).
	return true
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
