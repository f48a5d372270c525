package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrOverlap is returned when a write would make two reservations of the
	// same room overlap.
	ErrOverlap = errors.New("persistence: reservation window overlaps")
	// ErrConstraintViolation is returned when a CHECK constraint rejects a row.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrForeignKeyViolation is returned when a referenced row is missing.
	ErrForeignKeyViolation = errors.New("persistence: foreign key violation")
	// ErrUnavailable is returned when the store cannot serve the request,
	// for example because the database stayed locked past the retry budget.
	ErrUnavailable = errors.New("persistence: store unavailable")
)
