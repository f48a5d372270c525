package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/room-reservations/internal/persistence"
)

// PermissionRepository implements persistence.PermissionRepository over the
// roles, permissions, role_permissions and user_roles tables.
type PermissionRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
}

// NewPermissionRepository creates a repository bound to pool.
func NewPermissionRepository(pool *ConnectionPool) *PermissionRepository {
	return &PermissionRepository{pool: pool, mapper: NewErrorMapper()}
}

// AssignRole grants role to userID. Assigning the same role twice is a no-op.
func (r *PermissionRepository) AssignRole(ctx context.Context, userID, role string) error {
	if userID == "" {
		return persistence.ErrConstraintViolation
	}
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var roleID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = ?`, role).Scan(&roleID); err != nil {
			return r.mapper.MapError(err)
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles (user_id, role_id) VALUES (?, ?)`, userID, roleID)
		return r.mapper.MapError(err)
	})
}

// UserRoles lists the role names granted to userID.
func (r *PermissionRepository) UserRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.DB().QueryContext(ctx, `
		SELECT ro.name
		FROM user_roles ur
		JOIN roles ro ON ro.id = ur.role_id
		WHERE ur.user_id = ?
		ORDER BY ro.name`, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, r.mapper.MapError(err)
		}
		roles = append(roles, name)
	}
	return roles, r.mapper.MapError(rows.Err())
}

// HasPermission reports whether any role of userID carries permission.
func (r *PermissionRepository) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM user_roles ur
			JOIN role_permissions rp ON rp.role_id = ur.role_id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ur.user_id = ? AND p.name = ?
		)`, userID, permission)
}

// RoleHasPermission reports whether role carries permission.
func (r *PermissionRepository) RoleHasPermission(ctx context.Context, role, permission string) (bool, error) {
	return r.exists(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM roles ro
			JOIN role_permissions rp ON rp.role_id = ro.id
			JOIN permissions p ON p.id = rp.permission_id
			WHERE ro.name = ? AND p.name = ?
		)`, role, permission)
}

func (r *PermissionRepository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found int
	if err := r.pool.DB().QueryRowContext(ctx, query, args...).Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, r.mapper.MapError(err)
	}
	return found == 1, nil
}
