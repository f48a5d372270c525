package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/room-reservations/internal/scheduler"
)

// Kind is the stable classification of a booking failure.
type Kind string

const (
	KindInvalidFormat       Kind = "invalid_format"
	KindInvalidRange        Kind = "invalid_range"
	KindDurationViolation   Kind = "duration_violation"
	KindOutsideOpeningHours Kind = "outside_opening_hours"
	KindSlotTaken           Kind = "slot_taken"
	KindNotFound            Kind = "not_found"
	KindForbidden           Kind = "forbidden"
	KindStoreUnavailable    Kind = "store_unavailable"
	KindRoomUnavailable     Kind = "room_unavailable"
	KindIdempotencyMismatch Kind = "idempotency_mismatch"
	// KindCanceled means the caller went away before the operation finished.
	KindCanceled            Kind = "canceled"
	KindUnexpected          Kind = "unexpected"
)

var (
	// ErrNotFound is returned when the requested reservation or room does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrForbidden is returned when the actor lacks a capability or is not an occupant.
	ErrForbidden = errors.New("application: forbidden")
	// ErrSlotTaken is matched by *ConflictError.
	ErrSlotTaken = errors.New("application: slot taken")
	// ErrRoomUnavailable is returned when the room is closed or under maintenance.
	ErrRoomUnavailable = errors.New("application: room unavailable")
	// ErrIdempotencyMismatch is returned when an idempotency key is reused for a different request.
	ErrIdempotencyMismatch = errors.New("application: idempotency key reused with a different request")
	// ErrStoreUnavailable is returned when persistence failed for infrastructure reasons.
	// It is the only kind a caller may retry transparently.
	ErrStoreUnavailable = errors.New("application: store unavailable")
)

// DurationBounds reports an offending duration together with the policy.
type DurationBounds struct {
	Actual time.Duration
	Min    time.Duration
	Max    time.Duration
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	Kind        Kind
	FieldErrors map[string]string
	Duration    *DurationBounds
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if v.Kind == "" {
		return "validation failed"
	}
	return "validation failed: " + string(v.Kind)
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	if v.Kind == "" {
		v.Kind = other.Kind
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

func validationFromWindow(err error) error {
	var wErr *scheduler.WindowError
	if !errors.As(err, &wErr) {
		return err
	}
	vErr := &ValidationError{}
	switch wErr.Kind {
	case scheduler.InvalidFormat:
		vErr.Kind = KindInvalidFormat
	case scheduler.InvalidRange:
		vErr.Kind = KindInvalidRange
	case scheduler.DurationViolation:
		vErr.Kind = KindDurationViolation
		vErr.Duration = &DurationBounds{Actual: wErr.Actual, Min: wErr.Min, Max: wErr.Max}
	case scheduler.OutsideOpeningHours:
		vErr.Kind = KindOutsideOpeningHours
	}
	vErr.add(wErr.Field, wErr.Error())
	return vErr
}

// ConflictError rejects a create or update because the room is already
// booked. Conflicts lists the reservations in the way.
type ConflictError struct {
	RoomID    string
	Window    scheduler.Window
	Conflicts []Reservation
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("room %s is already booked during %s (%d conflicting reservations)", e.RoomID, e.Window, len(e.Conflicts))
}

// Is makes errors.Is(err, ErrSlotTaken) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrSlotTaken
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		if vErr.Kind == "" {
			return KindInvalidFormat
		}
		return vErr.Kind
	}
	switch {
	case errors.Is(err, ErrSlotTaken):
		return KindSlotTaken
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrRoomUnavailable):
		return KindRoomUnavailable
	case errors.Is(err, ErrIdempotencyMismatch):
		return KindIdempotencyMismatch
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindStoreUnavailable
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindUnexpected
}

// Retryable reports whether a caller may retry the failed call unchanged.
func Retryable(err error) bool {
	return KindOf(err) == KindStoreUnavailable
}
