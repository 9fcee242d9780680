package errors

import (
	"errors"
	"fmt"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Kind classifies a failure for retry and resource-lifecycle decisions.
type Kind string

const (
	// KindTransient covers waits that may succeed on a later poll: an element
	// not yet visible, a verification code not yet delivered.
	KindTransient Kind = "transient"
	// KindResourceExhausted means a consumable pool ran dry (no card, no
	// signup domain configured). The task fails immediately, no retry.
	KindResourceExhausted Kind = "resource_exhausted"
	// KindExternal marks an upstream that will not recover within the task's
	// lifetime: a challenge that never resolves, a number that never receives
	// a code. The attached resource must be blacklisted or marked problematic.
	KindExternal Kind = "external"
	// KindCancelled marks cooperative cancellation observed at a suspension point.
	KindCancelled Kind = "cancelled"
)

type AppError struct {
	Code      string
	Kind      Kind
	Message   string
	Severity  Severity
	Retryable bool
	cause     error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

func NewTransientError(msg string) *AppError {
	return &AppError{
		Code:      "E100",
		Kind:      KindTransient,
		Message:   msg,
		Severity:  SeverityLow,
		Retryable: true,
		cause:     nil,
	}
}

func NewResourceExhaustedError(resource string) *AppError {
	return &AppError{
		Code:      "E200",
		Kind:      KindResourceExhausted,
		Message:   fmt.Sprintf("resource pool exhausted: %s", resource),
		Severity:  SeverityHigh,
		Retryable: false,
		cause:     nil,
	}
}

func NewExternalError(upstream string, cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:      "E300",
		Kind:      KindExternal,
		Message:   fmt.Sprintf("upstream failure: %s: %s", upstream, underlyingMsg),
		Severity:  SeverityMedium,
		Retryable: false,
		cause:     cause,
	}
}

func NewCancelledError(at string) *AppError {
	return &AppError{
		Code:      "E400",
		Kind:      KindCancelled,
		Message:   fmt.Sprintf("cancelled at %s", at),
		Severity:  SeverityLow,
		Retryable: false,
		cause:     nil,
	}
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:      "E500",
		Kind:      KindExternal,
		Message:   msg,
		Severity:  SeverityLow,
		Retryable: false,
		cause:     nil,
	}
}

// KindOf extracts the Kind from any error chain, defaulting to KindExternal
// for errors that did not originate in this package.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr.Kind
	}

	return KindExternal
}
