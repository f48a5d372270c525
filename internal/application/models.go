package application

import (
	"math"
	"time"

	"github.com/example/room-reservations/internal/scheduler"
)

// Principal represents the authenticated actor performing an operation.
type Principal struct {
	UserID string
}

// RoomStatus mirrors the administrative state of a room.
type RoomStatus string

const (
	RoomAvailable   RoomStatus = "available"
	RoomMaintenance RoomStatus = "maintenance"
	RoomClosed      RoomStatus = "closed"
)

// Room is the subset of the room catalog the booking core depends on.
type Room struct {
	ID     string
	Name   string
	Status RoomStatus
}

// Bookable reports whether new reservations may be placed in the room.
// An empty status is treated as available.
func (r Room) Bookable() bool {
	return r.Status == "" || r.Status == RoomAvailable
}

// Reservation is a booking of one room for one half-open window.
type Reservation struct {
	ID        string
	RoomID    string
	Occupants scheduler.Occupants
	Window    scheduler.Window
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOccupant reports whether userID may read or change the reservation.
func (r Reservation) IsOccupant(userID string) bool {
	return userID != "" && r.Occupants.Contains(userID)
}

func (r Reservation) booking() scheduler.Booking {
	return scheduler.Booking{ID: r.ID, RoomID: r.RoomID, Window: r.Window}
}

// CreateReservationParams carries a create request. Start and End are the
// raw client values; parsing belongs to the policy.
type CreateReservationParams struct {
	Principal      Principal
	RoomID         string
	Start          string
	End            string
	IdempotencyKey string
}

// UpdateReservationParams replaces the window of an existing reservation.
type UpdateReservationParams struct {
	Principal     Principal
	ReservationID string
	Start         string
	End           string
}

// SearchReservationsParams filters reservations. Zero values disable a filter.
type SearchReservationsParams struct {
	Principal  Principal
	RoomID     string
	Occupant   string
	StartsFrom *time.Time
	EndsBy     *time.Time
	Page       int
	Limit      int
}

// ReservationPage is one page of a search, newest start first.
type ReservationPage struct {
	Items []Reservation
	Page  int
	Limit int
	Total int
}

// HasNext reports whether a later page exists.
func (p ReservationPage) HasNext() bool {
	if p.Limit <= 0 || p.Page < 1 {
		return false
	}
	pages := p.Total / p.Limit
	if p.Total%p.Limit != 0 {
		pages++
	}
	return p.Page < pages
}

// Paging defaults.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// NormalizePaging clamps page and limit to their allowed ranges. page is
// capped so that the offset (page-1)*limit cannot overflow.
func NormalizePaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	page = min(page, math.MaxInt/limit)
	return page, limit
}

// ReservationFilter is the store level form of a search.
type ReservationFilter struct {
	RoomID     string
	Occupant   string
	StartsFrom *time.Time
	EndsBy     *time.Time
	Offset     int
	Limit      int
}

// IdempotencyRecord binds an actor supplied key to the reservation it created.
type IdempotencyRecord struct {
	ActorID       string
	Key           string
	Fingerprint   string
	ReservationID string
	CreatedAt     time.Time
}
