package sqlite

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/room-reservations/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse stored time %q: %w", value, err)
		}
	}
	return t.UTC(), nil
}

// Storage groups the SQLite repositories that share one pool.
type Storage struct {
	pool   *ConnectionPool
	logger *slog.Logger

	Reservations *ReservationRepository
	Rooms        *RoomRepository
	Users        *UserRepository
	Permissions  *PermissionRepository
}

// Open connects to the database described by config.
func Open(ctx context.Context, config migration.SQLiteConfig, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:         pool,
		logger:       logger,
		Reservations: NewReservationRepository(pool),
		Rooms:        NewRoomRepository(pool),
		Users:        NewUserRepository(pool),
		Permissions:  NewPermissionRepository(pool),
	}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	executor := migration.NewSQLiteExecutor(s.pool.DB())
	if err := migration.NewManager(migrationFiles, "migrations", executor, s.logger).Run(ctx); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
