package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/persistence"
	"github.com/example/room-reservations/internal/scheduler"
)

var reservationCounter uint64

var referenceTime = time.Date(2025, time.July, 1, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the baseline instant used by fixtures, 08:00 UTC on
// the reference day.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns hour:minute UTC on the reference day.
func At(hour, minute int) time.Time {
	y, m, d := referenceTime.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
}

// Slot renders a window starting at hour:minute on the reference day in the
// canonical wire format.
func Slot(hour, minute int, length time.Duration) (string, string) {
	start := At(hour, minute)
	return scheduler.FormatInstant(start), scheduler.FormatInstant(start.Add(length))
}

// DefaultRooms are seeded by the SQLite harness. Room "9" is under maintenance.
func DefaultRooms() []persistence.Room {
	return []persistence.Room{
		{ID: "1", Name: "Reading Room A", Status: persistence.RoomAvailable},
		{ID: "2", Name: "Reading Room B", Status: persistence.RoomAvailable},
		{ID: "9", Name: "Archive", Status: persistence.RoomMaintenance},
	}
}

// DefaultUsers are seeded by the SQLite harness.
func DefaultUsers() []persistence.User {
	return []persistence.User{
		{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"},
		{ID: "bob", Email: "bob@example.com", DisplayName: "Bob"},
		{ID: "carol", DisplayName: "Carol"},
	}
}

// ReservationOption configures a reservation fixture.
type ReservationOption func(*application.Reservation)

// NewReservation returns a one hour reservation of room "1" at 09:00 held by
// alice, with a unique id.
func NewReservation(opts ...ReservationOption) application.Reservation {
	idx := atomic.AddUint64(&reservationCounter, 1)
	start := At(9, 0)
	reservation := application.Reservation{
		ID:        fmt.Sprintf("fixture-%03d", idx),
		RoomID:    "1",
		Occupants: scheduler.NewOccupants("alice"),
		Window:    scheduler.NewWindow(start, start.Add(time.Hour)),
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&reservation)
	}
	return reservation
}

// WithRoom sets the room.
func WithRoom(roomID string) ReservationOption {
	return func(r *application.Reservation) { r.RoomID = roomID }
}

// WithWindow sets the window.
func WithWindow(start, end time.Time) ReservationOption {
	return func(r *application.Reservation) { r.Window = scheduler.NewWindow(start, end) }
}

// WithOccupants replaces the occupants.
func WithOccupants(ids ...string) ReservationOption {
	return func(r *application.Reservation) { r.Occupants = scheduler.NewOccupants(ids...) }
}

// WithID sets the identifier.
func WithID(id string) ReservationOption {
	return func(r *application.Reservation) { r.ID = id }
}
