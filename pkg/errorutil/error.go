package errorutil

import (
	"errors"
	"fmt"
)

// Error carries a retryable flag alongside the message, so callers can decide
// between "try again next cycle" (network errors, catalog unavailable) and
// "hand to the failure sink" (missing mandatory field, unknown test code).
type Error struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	DevDetails string `json:"dev_details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Retriable creates a retryable error (network errors, temporary outages).
func Retriable(message string) *Error {
	return &Error{
		Code:      500,
		Message:   message,
		Retryable: true,
	}
}

// Retriablef creates a retryable error with a formatted message.
func Retriablef(format string, args ...interface{}) *Error {
	return Retriable(fmt.Sprintf(format, args...))
}

// NonRetriable creates a non-retryable error (validation failures, unresolved
// catalog codes, bad credentials).
func NonRetriable(message string) *Error {
	return &Error{
		Code:      400,
		Message:   message,
		Retryable: false,
	}
}

// NonRetriablef creates a non-retryable error with a formatted message.
func NonRetriablef(format string, args ...interface{}) *Error {
	return NonRetriable(fmt.Sprintf(format, args...))
}

// Wrap converts any error into *Error. Unclassified errors default to
// non-retryable: an unknown failure must not loop forever.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{
		Code:       500,
		Message:    err.Error(),
		Retryable:  false,
		DevDetails: fmt.Sprintf("%+v", err),
	}
}

// IsRetryable reports whether err should be retried on a later cycle.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
