package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/example/room-reservations/internal/persistence"
)

// UserRepository implements persistence.UserRepository using SQLite. Only
// contact details are stored; credentials live with the identity provider.
type UserRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewUserRepository creates a repository bound to pool.
func NewUserRepository(pool *ConnectionPool) *UserRepository {
	return &UserRepository{pool: pool, mapper: NewErrorMapper()}
}

// UpsertUser inserts user or refreshes its contact details.
func (r *UserRepository) UpsertUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" {
		return persistence.ErrConstraintViolation
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}

	_, err := r.pool.DB().ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at`,
		user.ID,
		strings.ToLower(strings.TrimSpace(user.Email)),
		user.DisplayName,
		formatTime(user.CreatedAt),
		formatTime(now),
	)
	return r.mapper.MapError(err)
}

// GetUser loads a user by ID.
func (r *UserRepository) GetUser(ctx context.Context, id string) (persistence.User, error) {
	if id == "" {
		return persistence.User{}, persistence.ErrNotFound
	}

	var (
		user             persistence.User
		created, updated string
	)
	err := r.pool.DB().QueryRowContext(ctx, `
		SELECT id, email, display_name, created_at, updated_at
		FROM users
		WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.DisplayName, &created, &updated)
	if err != nil {
		return persistence.User{}, r.mapper.MapError(err)
	}
	if user.CreatedAt, err = parseTime(created); err != nil {
		return persistence.User{}, err
	}
	if user.UpdatedAt, err = parseTime(updated); err != nil {
		return persistence.User{}, err
	}
	return user, nil
}
