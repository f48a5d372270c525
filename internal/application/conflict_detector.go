package application

import (
	"context"
	"fmt"

	"github.com/example/room-reservations/internal/scheduler"
)

// OverlapFinder is the store primitive the detector relies on.
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, roomID string, window scheduler.Window, excludeID string) ([]Reservation, error)
}

// ConflictDetector finds existing reservations of a room that overlap a
// candidate window. Touching windows do not conflict.
//
// The check is not atomic with a later write. Callers must hold the room lock
// across check and persist, and the store rejects overlapping writes itself.
type ConflictDetector struct {
	store OverlapFinder
}

// NewConflictDetector constructs a detector over store.
func NewConflictDetector(store OverlapFinder) *ConflictDetector {
	return &ConflictDetector{store: store}
}

// FindConflicts returns the overlapping reservations, newest window first.
// The result is empty when the slot is free.
func (d *ConflictDetector) FindConflicts(ctx context.Context, roomID string, window scheduler.Window, excludeID string) ([]Reservation, error) {
	if d == nil || d.store == nil {
		return nil, fmt.Errorf("ConflictDetector is nil")
	}
	rows, err := d.store.FindOverlapping(ctx, roomID, window, excludeID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	byID := make(map[string]Reservation, len(rows))
	bookings := make([]scheduler.Booking, 0, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
		bookings = append(bookings, row.booking())
	}
	matched := scheduler.FindConflicts(bookings, roomID, window, excludeID)
	scheduler.SortNewestFirst(matched)

	conflicts := make([]Reservation, 0, len(matched))
	for _, booking := range matched {
		conflicts = append(conflicts, byID[booking.ID])
	}
	return conflicts, nil
}
