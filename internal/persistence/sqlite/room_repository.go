package sqlite

import (
	"context"
	"time"

	"github.com/example/room-reservations/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository using SQLite.
type RoomRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewRoomRepository creates a repository bound to pool.
func NewRoomRepository(pool *ConnectionPool) *RoomRepository {
	return &RoomRepository{pool: pool, mapper: NewErrorMapper()}
}

// UpsertRoom inserts room or refreshes its name, cover and status.
func (r *RoomRepository) UpsertRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Name == "" {
		return persistence.ErrConstraintViolation
	}
	if room.Status == "" {
		room.Status = persistence.RoomAvailable
	}
	now := time.Now().UTC()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}

	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO rooms (id, name, cover, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cover = excluded.cover,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		room.ID,
		room.Name,
		room.Cover,
		string(room.Status),
		formatTime(room.CreatedAt),
		formatTime(now),
	)
	return r.mapper.MapError(err)
}

// GetRoom loads a room by ID.
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if id == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}

	var (
		room             persistence.Room
		status           string
		created, updated string
	)
	err := r.pool.DB().QueryRowContext(ctx, `
		SELECT id, name, cover, status, created_at, updated_at
		FROM rooms
		WHERE id = ?`, id,
	).Scan(&room.ID, &room.Name, &room.Cover, &status, &created, &updated)
	if err != nil {
		return persistence.Room{}, r.mapper.MapError(err)
	}
	room.Status = persistence.RoomStatus(status)
	if room.CreatedAt, err = parseTime(created); err != nil {
		return persistence.Room{}, err
	}
	if room.UpdatedAt, err = parseTime(updated); err != nil {
		return persistence.Room{}, err
	}
	return room, nil
}
