package persistence

import "time"

// RoomStatus mirrors the administrative state of a room.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "available"
	RoomMaintenance RoomStatus = "maintenance"
	RoomClosed      RoomStatus = "closed"
)

// Room is a bookable room as seen by the reservation core.
type Room struct {
	ID        string
	Name      string
	Cover     string
	Status    RoomStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User carries the contact details used for notifications.
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reservation is the stored form of a booking. Occupants is serialized as a
// JSON array at the store boundary.
type Reservation struct {
	ID        string
	RoomID    string
	Occupants []string
	Start     time.Time
	End       time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IdempotencyRecord binds a client supplied key to the reservation it created.
type IdempotencyRecord struct {
	ActorID       string
	Key           string
	Fingerprint   string
	ReservationID string
	CreatedAt     time.Time
}
