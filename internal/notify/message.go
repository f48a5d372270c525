// Package notify fans committed reservation events out to the configured
// sinks: live WebSocket subscribers, an AMQP exchange and confirmation mail.
package notify

import (
	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/scheduler"
)

// Message is the full wire form of an event, published to the AMQP exchange
// for trusted consumers.
type Message struct {
	Type          string   `json:"type"`
	ReservationID string   `json:"reservationId"`
	RoomID        string   `json:"roomId"`
	StartDatetime string   `json:"startDatetime"`
	EndDatetime   string   `json:"endDatetime"`
	Occupants     []string `json:"occupants"`
	ActorID       string   `json:"actorId"`
	OccurredAt    string   `json:"occurredAt"`
}

// NewMessage converts event to its wire form.
func NewMessage(event application.Event) Message {
	occupants := event.Occupants
	if occupants == nil {
		occupants = []string{}
	}
	return Message{
		Type:          string(event.Type),
		ReservationID: event.ReservationID,
		RoomID:        event.RoomID,
		StartDatetime: scheduler.FormatInstant(event.Window.Start),
		EndDatetime:   scheduler.FormatInstant(event.Window.End),
		Occupants:     occupants,
		ActorID:       event.ActorID,
		OccurredAt:    scheduler.FormatInstant(event.OccurredAt),
	}
}

// SlotMessage is the form pushed to WebSocket subscribers. Any holder of
// view_reservations may watch a room, so it carries the occupied slot and
// never who booked it.
type SlotMessage struct {
	Type          string `json:"type"`
	ReservationID string `json:"reservationId"`
	RoomID        string `json:"roomId"`
	StartDatetime string `json:"startDatetime"`
	EndDatetime   string `json:"endDatetime"`
	OccurredAt    string `json:"occurredAt"`
}

// NewSlotMessage converts event to its subscriber form.
func NewSlotMessage(event application.Event) SlotMessage {
	return SlotMessage{
		Type:          string(event.Type),
		ReservationID: event.ReservationID,
		RoomID:        event.RoomID,
		StartDatetime: scheduler.FormatInstant(event.Window.Start),
		EndDatetime:   scheduler.FormatInstant(event.Window.End),
		OccurredAt:    scheduler.FormatInstant(event.OccurredAt),
	}
}
