package application

import (
	"context"
	"time"

	"github.com/example/room-reservations/internal/scheduler"
)

// EventType names a committed reservation change.
type EventType string

const (
	EventReservationCreated EventType = "reservation.created"
	EventReservationUpdated EventType = "reservation.updated"
	EventReservationDeleted EventType = "reservation.deleted"
)

// Event describes a committed change. It is emitted after commit only.
type Event struct {
	Type          EventType
	ReservationID string
	RoomID        string
	Window        scheduler.Window
	Occupants     []string
	ActorID       string
	OccurredAt    time.Time
}

// Notifier receives events after commit. Notify must not block on delivery
// and failures are the notifier's to log.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Event) {}

func eventFor(eventType EventType, reservation Reservation, actorID string, at time.Time) Event {
	return Event{
		Type:          eventType,
		ReservationID: reservation.ID,
		RoomID:        reservation.RoomID,
		Window:        reservation.Window,
		Occupants:     reservation.Occupants.IDs(),
		ActorID:       actorID,
		OccurredAt:    at,
	}
}
