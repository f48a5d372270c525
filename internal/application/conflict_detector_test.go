package application

import (
	"context"
	"testing"
	"time"

	"github.com/example/room-reservations/internal/scheduler"
)

type staticOverlaps []Reservation

func (s staticOverlaps) FindOverlapping(context.Context, string, scheduler.Window, string) ([]Reservation, error) {
	return s, nil
}

func TestConflictDetectorFiltersAndOrders(t *testing.T) {
	t.Parallel()

	at := func(h int) time.Time { return time.Date(2025, 1, 6, h, 0, 0, 0, time.UTC) }
	rows := staticOverlaps{
		{ID: "a", RoomID: "1", Window: scheduler.NewWindow(at(8), at(9))},
		{ID: "b", RoomID: "1", Window: scheduler.NewWindow(at(9), at(10))},
		{ID: "c", RoomID: "1", Window: scheduler.NewWindow(at(10), at(11))},
		{ID: "d", RoomID: "2", Window: scheduler.NewWindow(at(9), at(10))},
		{ID: "self", RoomID: "1", Window: scheduler.NewWindow(at(9), at(11))},
	}
	detector := NewConflictDetector(rows)

	got, err := detector.FindConflicts(context.Background(), "1", scheduler.NewWindow(at(9), at(11)), "self")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		ids := make([]string, 0, len(got))
		for _, r := range got {
			ids = append(ids, r.ID)
		}
		t.Fatalf("expected [c b], got %v", ids)
	}

	free, err := NewConflictDetector(staticOverlaps{}).FindConflicts(context.Background(), "1", scheduler.NewWindow(at(9), at(10)), "")
	if err != nil || len(free) != 0 {
		t.Fatalf("expected empty result, got %v %v", free, err)
	}
}
