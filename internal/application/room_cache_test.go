package application

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingRooms struct {
	rooms fakeRooms
	calls int
}

func (c *countingRooms) GetRoom(ctx context.Context, id string) (Room, error) {
	c.calls++
	return c.rooms.GetRoom(ctx, id)
}

func TestCachedRoomCatalogCachesHits(t *testing.T) {
	inner := &countingRooms{rooms: fakeRooms{"1": {ID: "1", Status: RoomAvailable}}}
	cache := NewCachedRoomCatalog(inner, time.Minute, 4, nil)

	for i := 0; i < 3; i++ {
		room, err := cache.GetRoom(context.Background(), "1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if room.ID != "1" {
			t.Fatalf("unexpected room %+v", room)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single catalog lookup, got %d", inner.calls)
	}
}

func TestCachedRoomCatalogDoesNotCacheMisses(t *testing.T) {
	inner := &countingRooms{rooms: fakeRooms{}}
	cache := NewCachedRoomCatalog(inner, time.Minute, 4, nil)

	for i := 0; i < 2; i++ {
		if _, err := cache.GetRoom(context.Background(), "404"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("expected misses to reach the catalog, got %d calls", inner.calls)
	}
}

func TestCachedRoomCatalogExpiresEntries(t *testing.T) {
	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	inner := &countingRooms{rooms: fakeRooms{"1": {ID: "1", Status: RoomAvailable}}}
	cache := NewCachedRoomCatalog(inner, time.Second, 4, func() time.Time { return current })

	if _, err := cache.GetRoom(context.Background(), "1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	inner.rooms["1"] = Room{ID: "1", Status: RoomMaintenance}

	room, _ := cache.GetRoom(context.Background(), "1")
	if room.Status != RoomAvailable {
		t.Fatalf("expected cached status before expiry, got %s", room.Status)
	}

	current = current.Add(2 * time.Second)
	room, _ = cache.GetRoom(context.Background(), "1")
	if room.Status != RoomMaintenance {
		t.Fatalf("expected refreshed status after expiry, got %s", room.Status)
	}
}

func TestCachedRoomCatalogInvalidateAndEviction(t *testing.T) {
	inner := &countingRooms{rooms: fakeRooms{
		"1": {ID: "1"}, "2": {ID: "2"}, "3": {ID: "3"},
	}}
	cache := NewCachedRoomCatalog(inner, time.Minute, 2, nil)
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		if _, err := cache.GetRoom(ctx, id); err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
	}
	cache.mu.RLock()
	size := len(cache.entries)
	cache.mu.RUnlock()
	if size > 2 {
		t.Fatalf("expected at most two cached rooms, got %d", size)
	}

	cache.Invalidate()
	calls := inner.calls
	if _, err := cache.GetRoom(ctx, "1"); err != nil {
		t.Fatalf("get after invalidate: %v", err)
	}
	if inner.calls != calls+1 {
		t.Fatalf("expected lookup after invalidation")
	}
}
