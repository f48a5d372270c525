// Package adapters bridges the persistence layer to the application ports.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/persistence"
	"github.com/example/room-reservations/internal/scheduler"
)

// ReservationStore adapts persistence repositories to application.ReservationStore.
type ReservationStore struct {
	repo persistence.ReservationRepository
	keys persistence.IdempotencyRepository
}

// NewReservationStore constructs the adapter. keys may be nil, in which case
// idempotency lookups always miss.
func NewReservationStore(repo persistence.ReservationRepository, keys persistence.IdempotencyRepository) *ReservationStore {
	return &ReservationStore{repo: repo, keys: keys}
}

func (a *ReservationStore) CreateReservation(ctx context.Context, reservation application.Reservation, record *application.IdempotencyRecord) error {
	var stored *persistence.IdempotencyRecord
	if record != nil {
		converted := persistence.IdempotencyRecord(*record)
		stored = &converted
	}
	err := a.repo.CreateReservation(ctx, toPersistenceReservation(reservation), stored)
	if err != nil && record != nil && errors.Is(err, persistence.ErrDuplicate) {
		return fmt.Errorf("%w: %v", application.ErrIdempotencyMismatch, err)
	}
	return mapError(err)
}

func (a *ReservationStore) GetReservation(ctx context.Context, id string) (application.Reservation, error) {
	stored, err := a.repo.GetReservation(ctx, id)
	if err != nil {
		return application.Reservation{}, mapError(err)
	}
	return toApplicationReservation(stored), nil
}

func (a *ReservationStore) UpdateReservation(ctx context.Context, reservation application.Reservation) error {
	return mapError(a.repo.UpdateReservation(ctx, toPersistenceReservation(reservation)))
}

func (a *ReservationStore) DeleteReservation(ctx context.Context, id string) error {
	return mapError(a.repo.DeleteReservation(ctx, id))
}

func (a *ReservationStore) FindOverlapping(ctx context.Context, roomID string, window scheduler.Window, excludeID string) ([]application.Reservation, error) {
	rows, err := a.repo.FindOverlapping(ctx, roomID, window.Start, window.End, excludeID)
	if err != nil {
		return nil, mapError(err)
	}
	return toApplicationReservations(rows), nil
}

func (a *ReservationStore) SearchReservations(ctx context.Context, filter application.ReservationFilter) ([]application.Reservation, int, error) {
	rows, total, err := a.repo.SearchReservations(ctx, persistence.ReservationFilter(filter))
	if err != nil {
		return nil, 0, mapError(err)
	}
	return toApplicationReservations(rows), total, nil
}

func (a *ReservationStore) GetIdempotencyRecord(ctx context.Context, actorID, key string) (application.IdempotencyRecord, error) {
	if a.keys == nil {
		return application.IdempotencyRecord{}, application.ErrNotFound
	}
	record, err := a.keys.GetIdempotencyRecord(ctx, actorID, key)
	if err != nil {
		return application.IdempotencyRecord{}, mapError(err)
	}
	return application.IdempotencyRecord(record), nil
}

// RoomCatalog adapts persistence.RoomRepository to application.RoomCatalog.
type RoomCatalog struct {
	repo persistence.RoomRepository
}

// NewRoomCatalog constructs the adapter.
func NewRoomCatalog(repo persistence.RoomRepository) *RoomCatalog {
	return &RoomCatalog{repo: repo}
}

func (a *RoomCatalog) GetRoom(ctx context.Context, id string) (application.Room, error) {
	stored, err := a.repo.GetRoom(ctx, id)
	if err != nil {
		return application.Room{}, mapError(err)
	}
	return application.Room{ID: stored.ID, Name: stored.Name, Status: application.RoomStatus(stored.Status)}, nil
}

// UserDirectory resolves contact addresses for notifications.
type UserDirectory struct {
	repo persistence.UserRepository
}

// NewUserDirectory constructs the adapter.
func NewUserDirectory(repo persistence.UserRepository) *UserDirectory {
	return &UserDirectory{repo: repo}
}

// LookupEmail returns the address of userID, or "" when the user is unknown.
func (a *UserDirectory) LookupEmail(ctx context.Context, userID string) (string, error) {
	user, err := a.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return user.Email, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %v", application.ErrNotFound, err)
	case errors.Is(err, persistence.ErrForeignKeyViolation):
		// The referenced room vanished between lookup and insert.
		return fmt.Errorf("%w: %v", application.ErrNotFound, err)
	case errors.Is(err, persistence.ErrOverlap):
		return fmt.Errorf("%w: %v", application.ErrSlotTaken, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", application.ErrStoreUnavailable, err)
	}
}

func toApplicationReservation(model persistence.Reservation) application.Reservation {
	return application.Reservation{
		ID:        model.ID,
		RoomID:    model.RoomID,
		Occupants: scheduler.NewOccupants(model.Occupants...),
		Window:    scheduler.NewWindow(model.Start, model.End),
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}
}

func toApplicationReservations(models []persistence.Reservation) []application.Reservation {
	out := make([]application.Reservation, 0, len(models))
	for _, model := range models {
		out = append(out, toApplicationReservation(model))
	}
	return out
}

func toPersistenceReservation(reservation application.Reservation) persistence.Reservation {
	return persistence.Reservation{
		ID:        reservation.ID,
		RoomID:    reservation.RoomID,
		Occupants: reservation.Occupants.IDs(),
		Start:     reservation.Window.Start,
		End:       reservation.Window.End,
		CreatedAt: reservation.CreatedAt,
		UpdatedAt: reservation.UpdatedAt,
	}
}
