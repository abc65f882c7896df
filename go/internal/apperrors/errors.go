package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for transport mapping and retry guidance.
type Code string

const (
	CodeValidation   Code = "ValidationError"
	CodeNotFound     Code = "NotFound"
	CodeUnauthorized Code = "Unauthorized"
	CodeConflict     Code = "Conflict"
	CodeUpstream     Code = "UpstreamError"
	CodeInternal     Code = "InternalError"
)

// Error is the taxonomy error carried across the core. The gateway
// turns it into an error envelope, the HTTP layer into a status code.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Validation reports malformed or out-of-range input.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an absent session or item.
func NotFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized reports a missing/invalid join token or a
// non-facilitator attempting a facilitator-only operation.
func Unauthorized(format string, args ...any) *Error {
	return &Error{Code: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate add.
func Conflict(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Upstream wraps a failed external collaborator call. Retryable.
func Upstream(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeUpstream, Message: fmt.Sprintf(format, args...), Retryable: true, cause: cause}
}

// Internal wraps an unexpected error.
func Internal(cause error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the taxonomy code, defaulting to InternalError.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Retryable reports whether the caller may retry automatically.
func Retryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Message returns the human-readable message without the code prefix.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "An unexpected error occurred."
}

// HTTPStatus maps the taxonomy onto HTTP status codes.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
