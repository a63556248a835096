package guard

import (
	"net/http"
	"time"
)

// Error codes returned by the guard.
const (
	// CodeRateLimited marks a burst cap rejection, retryable next minute.
	CodeRateLimited = "RATE_LIMITED"
	// CodeUsageLimitReached marks an exhausted daily or monthly budget.
	CodeUsageLimitReached = "USAGE_LIMIT_REACHED"
	// CodeNotConfigured marks missing storage configuration.
	CodeNotConfigured = "NOT_CONFIGURED"
	// CodeUnauthorized marks a missing or invalid credential where one is required.
	CodeUnauthorized = "UNAUTHORIZED"
	// CodeInvalidRequest marks malformed cost or tool parameters.
	CodeInvalidRequest = "INVALID_REQUEST"
	// CodeServerError marks storage failures and unexpected panics.
	CodeServerError = "SERVER_ERROR"
)

// Error is the typed rejection shape the guard resolves every failure
// into. Nothing else crosses the guard boundary.
type Error struct {
	Code       string
	Message    string
	Retryable  bool
	ResetAt    time.Time
	HTTPStatus int
}

func (e *Error) Error() string {
	return e.Message
}

func rateLimited(resetAt time.Time) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "too many requests, slow down",
		Retryable:  true,
		ResetAt:    resetAt,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

func usageLimitReached(resetAt time.Time) *Error {
	return &Error{
		Code:       CodeUsageLimitReached,
		Message:    "usage limit reached for the current window",
		Retryable:  true,
		ResetAt:    resetAt,
		HTTPStatus: http.StatusTooManyRequests,
	}
}

func toolGated(message string, retryable bool, resetAt time.Time) *Error {
	return &Error{
		Code:       CodeUsageLimitReached,
		Message:    message,
		Retryable:  retryable,
		ResetAt:    resetAt,
		HTTPStatus: http.StatusPaymentRequired,
	}
}

func notConfigured() *Error {
	return &Error{
		Code:       CodeNotConfigured,
		Message:    "usage storage is not configured",
		Retryable:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

func unauthorized() *Error {
	return &Error{
		Code:       CodeUnauthorized,
		Message:    "a valid user credential is required",
		HTTPStatus: http.StatusUnauthorized,
	}
}

func invalidRequest(message string) *Error {
	return &Error{
		Code:       CodeInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

func serverError(retryable bool) *Error {
	return &Error{
		Code:       CodeServerError,
		Message:    "internal error while reserving usage",
		Retryable:  retryable,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}
