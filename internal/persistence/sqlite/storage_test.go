package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/example/room-reservations/internal/persistence"
	"github.com/example/room-reservations/internal/persistence/sqlite/migration"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()
	cfg := migration.DefaultSQLiteConfig(filepath.Join(t.TempDir(), "reservations.db"))
	storage, err := Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	if err := storage.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"1", "2"} {
		if err := storage.Rooms.UpsertRoom(ctx, persistence.Room{ID: id, Name: "Room " + id, CreatedAt: now, UpdatedAt: now}); err != nil {
			t.Fatalf("seed room %s: %v", id, err)
		}
	}
	return storage
}

func booking(id, room string, start time.Time, length time.Duration, occupants ...string) persistence.Reservation {
	if len(occupants) == 0 {
		occupants = []string{"alice"}
	}
	return persistence.Reservation{
		ID:        id,
		RoomID:    room,
		Occupants: occupants,
		Start:     start,
		End:       start.Add(length),
		CreatedAt: start,
		UpdatedAt: start,
	}
}

var monday = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func TestReservationRepositoryOverlapTriggers(t *testing.T) {
	storage := openTestStorage(t)
	repo := storage.Reservations
	ctx := context.Background()

	if err := repo.CreateReservation(ctx, booking("a", "1", monday, time.Hour), nil); err != nil {
		t.Fatalf("create a: %v", err)
	}

	cases := []struct {
		name string
		res  persistence.Reservation
		want error
	}{
		{name: "same window", res: booking("b", "1", monday, time.Hour), want: persistence.ErrOverlap},
		{name: "partial overlap", res: booking("c", "1", monday.Add(30*time.Minute), time.Hour), want: persistence.ErrOverlap},
		{name: "touching after", res: booking("d", "1", monday.Add(time.Hour), time.Hour), want: nil},
		{name: "touching before", res: booking("e", "1", monday.Add(-time.Hour), time.Hour), want: nil},
		{name: "other room", res: booking("f", "2", monday, time.Hour), want: nil},
		{name: "unknown room", res: booking("g", "404", monday, time.Hour), want: persistence.ErrForeignKeyViolation},
	}
	for _, tc := range cases {
		err := repo.CreateReservation(ctx, tc.res, nil)
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	moved := booking("d", "1", monday.Add(30*time.Minute), time.Hour)
	if err := repo.UpdateReservation(ctx, moved); !errors.Is(err, persistence.ErrOverlap) {
		t.Fatalf("expected update into occupied window to fail, got %v", err)
	}
	self := booking("a", "1", monday.Add(15*time.Minute), 45*time.Minute)
	if err := repo.UpdateReservation(ctx, self); err != nil {
		t.Fatalf("expected update overlapping only itself to pass, got %v", err)
	}
}

func TestReservationRepositoryCRUD(t *testing.T) {
	storage := openTestStorage(t)
	repo := storage.Reservations
	ctx := context.Background()

	want := booking("a", "1", monday, 90*time.Minute, "alice", "bob")
	if err := repo.CreateReservation(ctx, want, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.GetReservation(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Start.Equal(want.Start) || !got.End.Equal(want.End) || len(got.Occupants) != 2 {
		t.Fatalf("unexpected reservation %+v", got)
	}

	if err := repo.DeleteReservation(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetReservation(ctx, "a"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := repo.DeleteReservation(ctx, "a"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := repo.UpdateReservation(ctx, want); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected not found on update of deleted row, got %v", err)
	}
}

func TestReservationRepositoryIdempotencyRecordSharesTransaction(t *testing.T) {
	storage := openTestStorage(t)
	repo := storage.Reservations
	ctx := context.Background()

	record := &persistence.IdempotencyRecord{ActorID: "alice", Key: "k1", Fingerprint: "fp", CreatedAt: monday}
	if err := repo.CreateReservation(ctx, booking("a", "1", monday, time.Hour), record); err != nil {
		t.Fatalf("create: %v", err)
	}
	stored, err := repo.GetIdempotencyRecord(ctx, "alice", "k1")
	if err != nil || stored.ReservationID != "a" || stored.Fingerprint != "fp" {
		t.Fatalf("unexpected record %+v (%v)", stored, err)
	}

	// The key is taken, so the reservation insert must roll back too.
	err = repo.CreateReservation(ctx, booking("b", "1", monday.Add(3*time.Hour), time.Hour), record)
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
	if _, err := repo.GetReservation(ctx, "b"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected reservation b to be rolled back, got %v", err)
	}
}

func TestReservationRepositorySearch(t *testing.T) {
	storage := openTestStorage(t)
	repo := storage.Reservations
	ctx := context.Background()

	for day := 0; day < 12; day++ {
		occupant := "alice"
		if day%3 == 0 {
			occupant = "bob"
		}
		res := booking(fmt.Sprintf("r%02d", day), "1", monday.AddDate(0, 0, day), time.Hour, occupant)
		if err := repo.CreateReservation(ctx, res, nil); err != nil {
			t.Fatalf("create %d: %v", day, err)
		}
	}

	seen := make(map[string]bool)
	var previous time.Time
	for offset := 0; offset < 12; offset += 5 {
		page, total, err := repo.SearchReservations(ctx, persistence.ReservationFilter{RoomID: "1", Offset: offset, Limit: 5})
		if err != nil {
			t.Fatalf("search offset %d: %v", offset, err)
		}
		if total != 12 {
			t.Fatalf("expected total 12, got %d", total)
		}
		for _, r := range page {
			if seen[r.ID] {
				t.Fatalf("duplicate %s", r.ID)
			}
			seen[r.ID] = true
			if !previous.IsZero() && !r.Start.Before(previous) {
				t.Fatalf("expected descending starts, got %s after %s", r.Start, previous)
			}
			previous = r.Start
		}
	}
	if len(seen) != 12 {
		t.Fatalf("expected every row once, got %d", len(seen))
	}

	second, _, err := repo.SearchReservations(ctx, persistence.ReservationFilter{Offset: 5, Limit: 5})
	if err != nil || len(second) != 5 {
		t.Fatalf("expected 5 rows on page 2, got %d (%v)", len(second), err)
	}

	bobs, total, err := repo.SearchReservations(ctx, persistence.ReservationFilter{Occupant: "bob", Limit: 10})
	if err != nil || total != 4 || len(bobs) != 4 {
		t.Fatalf("expected 4 reservations for bob, got %d/%d (%v)", len(bobs), total, err)
	}

	from := monday.AddDate(0, 0, 2)
	by := monday.AddDate(0, 0, 5)
	ranged, total, err := repo.SearchReservations(ctx, persistence.ReservationFilter{StartsFrom: &from, EndsBy: &by, Limit: 10})
	if err != nil || total != 3 || len(ranged) != 3 {
		t.Fatalf("expected 3 reservations in range, got %d/%d (%v)", len(ranged), total, err)
	}

	none, total, err := repo.SearchReservations(ctx, persistence.ReservationFilter{RoomID: "2", Limit: 10})
	if err != nil || total != 0 || len(none) != 0 {
		t.Fatalf("expected empty result, got %d/%d (%v)", len(none), total, err)
	}
}

func TestReservationRepositoryConcurrentInserts(t *testing.T) {
	storage := openTestStorage(t)
	repo := storage.Reservations
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	start := make(chan struct{})
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			res := booking(fmt.Sprintf("w%d", i), "1", monday.Add(time.Duration(i)*10*time.Minute), time.Hour)
			errs[i] = repo.CreateReservation(ctx, res, nil)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil && !errors.Is(err, persistence.ErrOverlap) {
			t.Fatalf("writer %d: unexpected error %v", i, err)
		}
	}

	rows, _, err := repo.SearchReservations(ctx, persistence.ReservationFilter{RoomID: "1", Limit: 100})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			if rows[i].Start.Before(rows[j].End) && rows[j].Start.Before(rows[i].End) {
				t.Fatalf("overlapping rows persisted: %s and %s", rows[i].ID, rows[j].ID)
			}
		}
	}
	if len(rows) == 0 {
		t.Fatalf("expected at least one writer to succeed")
	}
}

func TestRoomsUsersAndPermissions(t *testing.T) {
	storage := openTestStorage(t)
	ctx := context.Background()

	room, err := storage.Rooms.GetRoom(ctx, "1")
	if err != nil || room.Status != persistence.RoomAvailable {
		t.Fatalf("expected available room, got %+v (%v)", room, err)
	}
	room.Status = persistence.RoomMaintenance
	if err := storage.Rooms.UpsertRoom(ctx, room); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if room, _ = storage.Rooms.GetRoom(ctx, "1"); room.Status != persistence.RoomMaintenance {
		t.Fatalf("expected maintenance, got %s", room.Status)
	}

	if err := storage.Users.UpsertUser(ctx, persistence.User{ID: "alice", Email: "alice@example.com", CreatedAt: monday, UpdatedAt: monday}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if user, err := storage.Users.GetUser(ctx, "alice"); err != nil || user.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v (%v)", user, err)
	}

	perms := storage.Permissions
	if ok, err := perms.HasPermission(ctx, "alice", "create_reservation"); err != nil || ok {
		t.Fatalf("expected no permission before role assignment, got %v (%v)", ok, err)
	}
	if err := perms.AssignRole(ctx, "alice", "employee"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if ok, err := perms.HasPermission(ctx, "alice", "create_reservation"); err != nil || !ok {
		t.Fatalf("expected employee to create reservations, got %v (%v)", ok, err)
	}
	if ok, _ := perms.HasPermission(ctx, "alice", "delete_room"); ok {
		t.Fatalf("expected employee not to delete rooms")
	}
	if ok, _ := perms.RoleHasPermission(ctx, "admin", "delete_room"); !ok {
		t.Fatalf("expected admin to delete rooms")
	}
	roles, err := perms.UserRoles(ctx, "alice")
	if err != nil || len(roles) != 1 || roles[0] != "employee" {
		t.Fatalf("unexpected roles %v (%v)", roles, err)
	}
}
