package persistence

import (
	"context"
	"time"
)

// ReservationFilter narrows reservation searches. Zero values disable a
// criterion.
type ReservationFilter struct {
	RoomID     string
	Occupant   string
	StartsFrom *time.Time
	EndsBy     *time.Time
	Offset     int
	Limit      int
}

// ReservationRepository stores reservations. Implementations must reject any
// write that makes two reservations of one room overlap with ErrOverlap.
type ReservationRepository interface {
	// CreateReservation inserts reservation. When record is non-nil it is
	// stored in the same transaction.
	CreateReservation(ctx context.Context, reservation Reservation, record *IdempotencyRecord) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	// FindOverlapping returns reservations of roomID whose window strictly
	// overlaps [start, end), skipping excludeID.
	FindOverlapping(ctx context.Context, roomID string, start, end time.Time, excludeID string) ([]Reservation, error)
	// SearchReservations returns one page ordered by start descending and the
	// total number of matches.
	SearchReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, int, error)
}

// IdempotencyRepository looks up previously stored idempotency keys.
type IdempotencyRepository interface {
	GetIdempotencyRecord(ctx context.Context, actorID, key string) (IdempotencyRecord, error)
}

// RoomRepository exposes the room catalog.
type RoomRepository interface {
	UpsertRoom(ctx context.Context, room Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
}

// UserRepository exposes user contact lookup.
type UserRepository interface {
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
}

// PermissionRepository answers role based permission checks.
type PermissionRepository interface {
	AssignRole(ctx context.Context, userID, role string) error
	UserRoles(ctx context.Context, userID string) ([]string, error)
	HasPermission(ctx context.Context, userID, permission string) (bool, error)
	RoleHasPermission(ctx context.Context, role, permission string) (bool, error)
}
