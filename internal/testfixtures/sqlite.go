package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/room-reservations/internal/adapters"
	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/persistence/sqlite"
	"github.com/example/room-reservations/internal/persistence/sqlite/migration"
)

// SQLiteHarness wires the application adapters to a migrated temporary
// SQLite database seeded with DefaultRooms and DefaultUsers.
type SQLiteHarness struct {
	Storage *sqlite.Storage
	Store   *adapters.ReservationStore
	Rooms   *adapters.RoomCatalog
	Users   *adapters.UserDirectory
	Gate    *application.RoleGate

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a database under tb.TempDir. Close is
// registered with tb.Cleanup.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	path := filepath.Join(tb.TempDir(), "reservations.db")
	storage, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(path), logger)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	for _, room := range DefaultRooms() {
		if err := storage.Rooms.UpsertRoom(ctx, room); err != nil {
			_ = storage.Close()
			tb.Fatalf("failed to seed room %s: %v", room.ID, err)
		}
	}
	for _, user := range DefaultUsers() {
		if err := storage.Users.UpsertUser(ctx, user); err != nil {
			_ = storage.Close()
			tb.Fatalf("failed to seed user %s: %v", user.ID, err)
		}
	}

	harness := &SQLiteHarness{
		Storage: storage,
		Store:   adapters.NewReservationStore(storage.Reservations, storage.Reservations),
		Rooms:   adapters.NewRoomCatalog(storage.Rooms),
		Users:   adapters.NewUserDirectory(storage.Users),
		Gate:    application.NewRoleGate(storage.Permissions, application.DefaultRole, logger),
		cleanup: func() {
			_ = storage.Close()
		},
	}
	tb.Cleanup(harness.Close)
	return harness
}

// Count returns the number of stored reservations.
func (h *SQLiteHarness) Count(tb testing.TB) int {
	tb.Helper()
	_, total, err := h.Store.SearchReservations(context.Background(), application.ReservationFilter{Limit: 1})
	if err != nil {
		tb.Fatalf("count reservations: %v", err)
	}
	return total
}
