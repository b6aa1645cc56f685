package upstream

import (
	"errors"
	"fmt"

	"demarches/pkg/platform/sentinel"
)

// Category is the normalized failure taxonomy shared by every upstream client.
type Category string

const (
	// CategoryTimeout indicates the upstream took too long to respond
	CategoryTimeout Category = "timeout"

	// CategoryUnavailable indicates a network failure or a 5xx answer
	CategoryUnavailable Category = "unavailable"

	// CategoryRateLimited indicates too many requests
	CategoryRateLimited Category = "rate_limited"

	// CategoryNotFound indicates the upstream has no record for the request
	CategoryNotFound Category = "not_found"

	// CategoryRejected indicates the upstream refused the request (4xx other than 404/429)
	CategoryRejected Category = "rejected"

	// CategoryBadData indicates the upstream returned invalid or malformed data
	CategoryBadData Category = "bad_data"

	// CategoryInternal indicates an unexpected local error
	CategoryInternal Category = "internal"
)

// Error wraps upstream failures with a normalized category.
type Error struct {
	Category   Category
	Upstream   string
	StatusCode int
	Message    string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("upstream %s [%s]: %s: %v", e.Upstream, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("upstream %s [%s]: %s", e.Upstream, e.Category, e.Message)
}

// Unwrap supports error unwrapping
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is maps categories onto the pipeline sentinels so callers never need the concrete type.
func (e *Error) Is(target error) bool {
	switch target {
	case sentinel.ErrUpstreamUnavailable:
		return e.Retryable
	case sentinel.ErrNotFound:
		return e.Category == CategoryNotFound
	}
	return false
}

// NewError creates a new normalized upstream error.
func NewError(category Category, upstream, message string, underlying error) *Error {
	retryable := category == CategoryTimeout ||
		category == CategoryUnavailable ||
		category == CategoryRateLimited

	return &Error{
		Category:   category,
		Upstream:   upstream,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable checks if an error is worth retrying
func IsRetryable(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// CategoryOf extracts the error category from an error
func CategoryOf(err error) Category {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Category
	}
	return CategoryInternal
}

// StatusCategory classifies an HTTP status code.
func StatusCategory(status int) Category {
	switch {
	case status == 404:
		return CategoryNotFound
	case status == 429:
		return CategoryRateLimited
	case status == 408 || status == 504:
		return CategoryTimeout
	case status >= 500:
		return CategoryUnavailable
	case status >= 400:
		return CategoryRejected
	}
	return CategoryInternal
}
