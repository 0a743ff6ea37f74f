package delivery

import (
	"fmt"

	"amese/labsync/internal/transform"
)

// Status classifies one delivery attempt.
type Status int

const (
	// StatusSuccess is a 2xx response.
	StatusSuccess Status = iota
	// StatusDuplicate is a 409: the platform already recorded the order.
	// Counts as success for watermark purposes.
	StatusDuplicate
	// StatusValidationError is a 400. Non-retryable.
	StatusValidationError
	// StatusAuthError is a 401. Non-retryable.
	StatusAuthError
	// StatusTransientError is anything else: other codes, network failures,
	// timeouts, open circuit breaker. Transport retries already happened.
	StatusTransientError
)

// String returns a log-friendly name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusDuplicate:
		return "duplicate"
	case StatusValidationError:
		return "validation_error"
	case StatusAuthError:
		return "auth_error"
	case StatusTransientError:
		return "transient_error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Status     Status
	HTTPStatus int    // 0 when the request never produced a response
	Body       string // response body or transport error text
	// Payload is set in dry-run mode so callers can inspect what would have
	// been sent.
	Payload *transform.Payload
}

// Delivered reports whether the platform has the order (success or
// duplicate).
func (o Outcome) Delivered() bool {
	return o.Status == StatusSuccess || o.Status == StatusDuplicate
}

// Reason renders the failure reason recorded by the failure sink.
func (o Outcome) Reason() string {
	if o.HTTPStatus > 0 {
		return fmt.Sprintf("HTTP %d: %s", o.HTTPStatus, o.Body)
	}
	return o.Body
}
