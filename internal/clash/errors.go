package clash

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrGroupNotFound is returned when the core does not know the requested group.
	ErrGroupNotFound = errors.New("clash: group not found")
	// ErrNotGroup is returned when a name refers to a plain proxy instead of a group.
	ErrNotGroup = errors.New("clash: not a proxy group")
)

// APIError is a non-2xx answer from the external controller.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("clash api: status %d", e.Status)
	}
	return fmt.Sprintf("clash api: status %d: %s", e.Status, e.Message)
}

// ErrorCategory defines error classification for retry decisions.
type ErrorCategory int

const (
	// CategoryRetryable indicates a transient error that can be retried.
	CategoryRetryable ErrorCategory = iota
	// CategoryPermanent indicates the controller rejected the request.
	CategoryPermanent
)

// String returns the string representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case CategoryRetryable:
		return "retryable"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifyError categorizes an error returned by the controller client.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return CategoryRetryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrGroupNotFound) || errors.Is(err, ErrNotGroup) {
		return CategoryPermanent
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusTooManyRequests,
			apiErr.Status == http.StatusBadGateway,
			apiErr.Status == http.StatusServiceUnavailable,
			apiErr.Status == http.StatusGatewayTimeout:
			return CategoryRetryable
		default:
			return CategoryPermanent
		}
	}
	// Transport failures (connection refused while the core restarts, timeouts).
	return CategoryRetryable
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return ClassifyError(err) == CategoryRetryable
}

// IsRejected reports whether the controller answered with a client error.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}
