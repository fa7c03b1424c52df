package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidID         = errors.New("invalid id")
	ErrInvalidOwnerID    = errors.New("invalid owner id")
	ErrInvalidActivityID = errors.New("invalid activity id")
	ErrInvalidPolygon    = errors.New("invalid polygon")
	ErrInvalidArea       = errors.New("invalid area")
	ErrValidation        = errors.New("validation failed")
)

// RejectionReason names why a recorded path could not become a territory.
type RejectionReason string

// RejectionReason values reported by path sanitizing and polygon building.
const (
	RejectTooFewPoints   RejectionReason = "too_few_points"
	RejectNotClosed      RejectionReason = "not_closed"
	RejectDegenerateArea RejectionReason = "degenerate_area"
	RejectTooShort       RejectionReason = "too_short"
	RejectTooBrief       RejectionReason = "too_brief"
	RejectTooSmall       RejectionReason = "too_small"
	RejectInvalidInput   RejectionReason = "invalid_input"
)

// ValidationError reports a conquest rejected before anything was persisted.
type ValidationError struct {
	Reason RejectionReason
	Detail string
}

// Error implements error.
func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Reject builds a ValidationError with a formatted detail.
func Reject(reason RejectionReason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
