package app

import (
	"errors"
	"fmt"
)

// ErrNotFound and related errors describe conquest failures.
var (
	ErrNotFound          = errors.New("not found")
	ErrStaleBasis        = errors.New("stale resolution basis")
	ErrConflict          = errors.New("conquest conflict")
	ErrPersistence       = errors.New("persistence failure")
	ErrPolicyUnavailable = errors.New("policy unavailable")
	ErrGeometry          = errors.New("malformed territory geometry")
)

// GeometryError reports a stored territory whose polygon cannot be clipped.
type GeometryError struct {
	TerritoryID string
	Err         error
}

// Error implements error.
func (e *GeometryError) Error() string {
	return fmt.Sprintf("territory %s: %v", e.TerritoryID, e.Err)
}

// Unwrap lets errors.Is match ErrGeometry and the cause.
func (e *GeometryError) Unwrap() []error {
	return []error{ErrGeometry, e.Err}
}
