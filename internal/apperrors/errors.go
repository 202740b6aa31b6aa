// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrPaymentRequired = errors.New("payment required")
	ErrLengthRequired  = errors.New("length required")
	ErrUnavailable     = errors.New("unavailable")
	ErrInternal        = errors.New("internal error")
)

// Reason is a machine readable rejection cause returned to clients.
type Reason string

const (
	ReasonUnknownApplication  Reason = "UnknownApplication"
	ReasonInvalidParameter    Reason = "InvalidParameter"
	ReasonProductNotSupported Reason = "ProductNotSupported"
	ReasonQuotaExceeded       Reason = "QuotaExceeded"
	ReasonPermissionDenied    Reason = "PermissionDenied"
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // classification for errors.Is()
	Message  string // human-readable message
	Reason   Reason // set on verification rejections
	Field    string // offending field or parameter name
	Resource string // e.g. "job"
	Op       string // operation that failed
	Cause    error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

func Validation(field, message string) error {
	return &Error{Sentinel: ErrValidation, Message: message, Field: field}
}

func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

func Conflict(resource, reason string) error {
	return &Error{Sentinel: ErrConflict, Message: reason, Resource: resource}
}

func Forbidden(message string) error {
	return &Error{Sentinel: ErrForbidden, Message: message}
}

func Unauthorized(message string) error {
	return &Error{Sentinel: ErrUnauthorized, Message: message}
}

func LengthRequired(message string) error {
	return &Error{Sentinel: ErrLengthRequired, Message: message}
}

func InsufficientFunds(message string) error {
	return &Error{Sentinel: ErrPaymentRequired, Message: message}
}

// Unavailable marks a collaborator that could not be reached.
func Unavailable(op string, cause error) error {
	return &Error{
		Sentinel: ErrUnavailable,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

func UnknownApplication(name, version string) error {
	return &Error{
		Sentinel: ErrValidation,
		Reason:   ReasonUnknownApplication,
		Message:  fmt.Sprintf("unknown application %s@%s", name, version),
		Resource: "application",
	}
}

func InvalidParameter(name, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Reason:   ReasonInvalidParameter,
		Message:  fmt.Sprintf("invalid parameter %q: %s", name, message),
		Field:    name,
	}
}

func ProductNotSupported(message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Reason:   ReasonProductNotSupported,
		Message:  message,
		Resource: "product",
	}
}

func QuotaExceeded(message string) error {
	return &Error{
		Sentinel: ErrPaymentRequired,
		Reason:   ReasonQuotaExceeded,
		Message:  message,
		Resource: "wallet",
	}
}

func PermissionDenied(message string) error {
	return &Error{
		Sentinel: ErrForbidden,
		Reason:   ReasonPermissionDenied,
		Message:  message,
	}
}

// ReasonOf returns the rejection reason carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Reason != "" {
		return appErr.Reason, true
	}
	return "", false
}

// HasReason reports whether err carries reason r.
func HasReason(err error, r Reason) bool {
	got, ok := ReasonOf(err)
	return ok && got == r
}
