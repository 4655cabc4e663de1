// Package errors provides coded domain errors for the sync engine.
//
// Usage:
//
//	// In the orchestrator - return typed errors
//	if !root.Permission.IsValid() {
//	    return nil, errors.RootUnavailablef("root %s is not readable", root.ID)
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrRootUnavailable) {
//	    // ask the user to re-grant access
//	}
//
//	// Or switch on the code
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    switch domainErr.Code {
//	    case errors.CodeScanFailure:
//	    case errors.CodeIndexApplyFailure:
//	    }
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the engine.
const (
	CodeRootUnavailable   Code = "ROOT_UNAVAILABLE"
	CodeScanFailure       Code = "SCAN_FAILURE"
	CodeIndexApplyFailure Code = "INDEX_APPLY_FAILURE"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeScrapeFailure     Code = "SCRAPE_FAILURE"
	CodeNotFound          Code = "NOT_FOUND"
	CodeAlreadyExists     Code = "ALREADY_EXISTS"
	CodeValidation        Code = "VALIDATION"
	CodeConflict          Code = "CONFLICT"
	CodeCancelled         Code = "CANCELLED"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeInternal          Code = "INTERNAL"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeConflict:
		return http.StatusConflict
	case CodeValidation:
		return http.StatusBadRequest
	case CodeRootUnavailable:
		return http.StatusUnprocessableEntity
	case CodeCancelled:
		return 499 // client closed request
	case CodeScrapeFailure:
		return http.StatusBadGateway
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: e.Details, cause: err}
}

// Sentinel errors for use with errors.Is().
var (
	ErrRootUnavailable   = &Error{Code: CodeRootUnavailable, Message: "root unavailable"}
	ErrScanFailure       = &Error{Code: CodeScanFailure, Message: "scan failed"}
	ErrIndexApplyFailure = &Error{Code: CodeIndexApplyFailure, Message: "index apply failed"}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid state transition"}
	ErrScrapeFailure     = &Error{Code: CodeScrapeFailure, Message: "scrape failed"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrAlreadyExists     = &Error{Code: CodeAlreadyExists, Message: "already exists"}
	ErrValidation        = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict          = &Error{Code: CodeConflict, Message: "conflict"}
	ErrCancelled         = &Error{Code: CodeCancelled, Message: "cancelled"}
	ErrInternal          = &Error{Code: CodeInternal, Message: "internal error"}
)

// RootUnavailablef creates a root unavailable error with formatted message.
func RootUnavailablef(format string, args ...any) *Error {
	return &Error{Code: CodeRootUnavailable, Message: fmt.Sprintf(format, args...)}
}

// ScanFailure wraps a scanner error.
func ScanFailure(err error) *Error {
	return &Error{Code: CodeScanFailure, Message: "scan failed", cause: err}
}

// IndexApplyFailure wraps an index store error.
func IndexApplyFailure(err error) *Error {
	return &Error{Code: CodeIndexApplyFailure, Message: "index apply failed", cause: err}
}

// InvalidTransitionf creates an invalid transition error with formatted message.
func InvalidTransitionf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

// ScrapeFailure wraps a scraper error.
func ScrapeFailure(err error) *Error {
	return &Error{Code: CodeScrapeFailure, Message: "scrape failed", cause: err}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// AlreadyExistsf creates an already exists error with formatted message.
func AlreadyExistsf(format string, args ...any) *Error {
	return &Error{Code: CodeAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Cancelled wraps a context error.
func Cancelled(err error) *Error {
	return &Error{Code: CodeCancelled, Message: "cancelled", cause: err}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
