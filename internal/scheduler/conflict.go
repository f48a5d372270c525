package scheduler

import (
	"cmp"
	"slices"
)

// Booking is the view of a persisted reservation needed for conflict checks.
type Booking struct {
	ID     string
	RoomID string
	Window Window
}

// FindConflicts returns the bookings in existing that belong to roomID and
// overlap candidate. A booking whose ID equals excludeID is skipped, which
// lets an update ignore the reservation being moved. The result keeps the
// input order.
func FindConflicts(existing []Booking, roomID string, candidate Window, excludeID string) []Booking {
	var conflicts []Booking
	for _, b := range existing {
		if b.RoomID != roomID {
			continue
		}
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		if Overlaps(b.Window, candidate) {
			conflicts = append(conflicts, b)
		}
	}
	return conflicts
}

// NewestFirst orders bookings by descending start, then descending ID so
// that pages stay stable when starts coincide.
func NewestFirst(a, b Booking) int {
	if c := b.Window.Start.Compare(a.Window.Start); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// SortNewestFirst sorts bookings in place using NewestFirst.
func SortNewestFirst(bookings []Booking) {
	slices.SortStableFunc(bookings, NewestFirst)
}
