package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrLocationNotFound    = errors.New("location not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	ErrProviderInactive = errors.New("provider is not active")
	ErrLocationInactive = errors.New("location is not active")

	// ErrProviderBusy is returned when the provider-scoped booking lock
	// could not be acquired; callers should retry.
	ErrProviderBusy = errors.New("provider is currently being booked, please retry")
)

// ValidationError describes malformed or out-of-domain input with the
// offending field attached.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError carries every existing appointment the candidate overlaps.
type ConflictError struct {
	Conflicts []Appointment
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("requested time overlaps %d existing appointment(s)", len(e.Conflicts))
}

// CapacityExceededError reports a location hour bucket that cannot take
// another appointment.
type CapacityExceededError struct {
	LocationID string
	Hour       int
	Capacity   int
	Occupied   int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("location %s at hour %02d:00 is at capacity (%d/%d)",
		e.LocationID, e.Hour, e.Occupied, e.Capacity)
}

// InvalidTransitionError rejects a status move the transition table does
// not permit.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition appointment from %s to %s", e.From, e.To)
}

// PersistenceError wraps a storage failure. The raw cause stays available
// for logging but is never rendered to API callers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
