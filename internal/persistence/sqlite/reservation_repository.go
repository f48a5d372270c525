package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/example/room-reservations/internal/persistence"
)

const reservationColumns = `id, room_id, occupants, start_at, end_at, created_at, updated_at`

// ReservationRepository implements persistence.ReservationRepository and
// persistence.IdempotencyRepository. Overlap exclusion is enforced by
// triggers on the reservations table.
type ReservationRepository struct {
	pool   *ConnectionPool
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewReservationRepository creates a repository bound to pool.
func NewReservationRepository(pool *ConnectionPool) *ReservationRepository {
	return &ReservationRepository{
		pool:   pool,
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// CreateReservation inserts reservation and, when given, its idempotency
// record in one transaction.
func (r *ReservationRepository) CreateReservation(ctx context.Context, reservation persistence.Reservation, record *persistence.IdempotencyRecord) error {
	if err := validateReservation(reservation); err != nil {
		return err
	}
	occupants, err := json.Marshal(reservation.Occupants)
	if err != nil {
		return fmt.Errorf("encode occupants: %w", err)
	}

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO reservations (`+reservationColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				reservation.ID,
				reservation.RoomID,
				string(occupants),
				formatTime(reservation.Start),
				formatTime(reservation.End),
				formatTime(reservation.CreatedAt),
				formatTime(reservation.UpdatedAt),
			)
			if err != nil {
				return r.mapper.MapError(err)
			}
			if record == nil {
				return nil
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO idempotency_keys (actor_id, idempotency_key, fingerprint, reservation_id, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				record.ActorID,
				record.Key,
				record.Fingerprint,
				reservation.ID,
				formatTime(record.CreatedAt),
			)
			return r.mapper.MapError(err)
		})
	})
}

// GetReservation loads one reservation.
func (r *ReservationRepository) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	if id == "" {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	var reservation persistence.Reservation
	err := r.retry.WithRetry(ctx, func() error {
		row := r.pool.DB().QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
		var scanErr error
		reservation, scanErr = scanReservation(row)
		return scanErr
	})
	if err != nil {
		return persistence.Reservation{}, r.mapper.MapError(err)
	}
	return reservation, nil
}

// UpdateReservation overwrites the room, occupants and window of an
// existing reservation.
func (r *ReservationRepository) UpdateReservation(ctx context.Context, reservation persistence.Reservation) error {
	if err := validateReservation(reservation); err != nil {
		return err
	}
	occupants, err := json.Marshal(reservation.Occupants)
	if err != nil {
		return fmt.Errorf("encode occupants: %w", err)
	}

	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, `
				UPDATE reservations
				SET room_id = ?, occupants = ?, start_at = ?, end_at = ?, updated_at = ?
				WHERE id = ?`,
				reservation.RoomID,
				string(occupants),
				formatTime(reservation.Start),
				formatTime(reservation.End),
				formatTime(reservation.UpdatedAt),
				reservation.ID,
			)
			if err != nil {
				return r.mapper.MapError(err)
			}
			return requireAffected(result)
		})
	})
}

// DeleteReservation removes a reservation permanently.
func (r *ReservationRepository) DeleteReservation(ctx context.Context, id string) error {
	if id == "" {
		return persistence.ErrNotFound
	}
	return r.retry.WithRetry(ctx, func() error {
		return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			result, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
			if err != nil {
				return r.mapper.MapError(err)
			}
			return requireAffected(result)
		})
	})
}

// FindOverlapping returns the reservations of roomID that strictly overlap
// [start, end), ordered by start.
func (r *ReservationRepository) FindOverlapping(ctx context.Context, roomID string, start, end time.Time, excludeID string) ([]persistence.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE room_id = ? AND start_at < ? AND end_at > ? AND id <> ?
		ORDER BY start_at ASC, id ASC`

	var reservations []persistence.Reservation
	err := r.retry.WithRetry(ctx, func() error {
		var queryErr error
		reservations, queryErr = r.query(ctx, query, roomID, formatTime(end), formatTime(start), excludeID)
		return queryErr
	})
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// SearchReservations returns the requested page ordered newest window first
// together with the total match count.
func (r *ReservationRepository) SearchReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, int, error) {
	where, args := buildSearchConditions(filter)

	var (
		total        int
		reservations []persistence.Reservation
	)
	err := r.retry.WithRetry(ctx, func() error {
		if err := r.pool.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations`+where, args...).Scan(&total); err != nil {
			return err
		}
		if total == 0 || filter.Limit <= 0 {
			reservations = nil
			return nil
		}
		pageArgs := append(append([]any{}, args...), filter.Limit, max(filter.Offset, 0))
		var queryErr error
		reservations, queryErr = r.query(ctx, `
			SELECT `+reservationColumns+`
			FROM reservations`+where+`
			ORDER BY start_at DESC, id DESC
			LIMIT ? OFFSET ?`, pageArgs...)
		return queryErr
	})
	if err != nil {
		return nil, 0, r.mapper.MapError(err)
	}
	return reservations, total, nil
}

// GetIdempotencyRecord loads the record stored for actorID and key.
func (r *ReservationRepository) GetIdempotencyRecord(ctx context.Context, actorID, key string) (persistence.IdempotencyRecord, error) {
	var (
		record    persistence.IdempotencyRecord
		createdAt string
	)
	err := r.retry.WithRetry(ctx, func() error {
		return r.pool.DB().QueryRowContext(ctx, `
			SELECT actor_id, idempotency_key, fingerprint, reservation_id, created_at
			FROM idempotency_keys
			WHERE actor_id = ? AND idempotency_key = ?`, actorID, key,
		).Scan(&record.ActorID, &record.Key, &record.Fingerprint, &record.ReservationID, &createdAt)
	})
	if err != nil {
		return persistence.IdempotencyRecord{}, r.mapper.MapError(err)
	}
	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.IdempotencyRecord{}, err
	}
	return record, nil
}

func (r *ReservationRepository) query(ctx context.Context, query string, args ...any) ([]persistence.Reservation, error) {
	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var reservations []persistence.Reservation
	for rows.Next() {
		reservation, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return reservations, nil
}

func buildSearchConditions(filter persistence.ReservationFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if filter.RoomID != "" {
		conditions = append(conditions, "room_id = ?")
		args = append(args, filter.RoomID)
	}
	if filter.Occupant != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(reservations.occupants) WHERE json_each.value = ?)")
		args = append(args, filter.Occupant)
	}
	if filter.StartsFrom != nil {
		conditions = append(conditions, "start_at >= ?")
		args = append(args, formatTime(*filter.StartsFrom))
	}
	if filter.EndsBy != nil {
		conditions = append(conditions, "end_at <= ?")
		args = append(args, formatTime(*filter.EndsBy))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (persistence.Reservation, error) {
	var (
		reservation                               persistence.Reservation
		occupants, start, end, created, updated string
	)
	if err := row.Scan(&reservation.ID, &reservation.RoomID, &occupants, &start, &end, &created, &updated); err != nil {
		return persistence.Reservation{}, err
	}
	if err := json.Unmarshal([]byte(occupants), &reservation.Occupants); err != nil {
		return persistence.Reservation{}, fmt.Errorf("decode occupants of %s: %w", reservation.ID, err)
	}

	var err error
	if reservation.Start, err = parseTime(start); err != nil {
		return persistence.Reservation{}, err
	}
	if reservation.End, err = parseTime(end); err != nil {
		return persistence.Reservation{}, err
	}
	if reservation.CreatedAt, err = parseTime(created); err != nil {
		return persistence.Reservation{}, err
	}
	if reservation.UpdatedAt, err = parseTime(updated); err != nil {
		return persistence.Reservation{}, err
	}
	return reservation, nil
}

func validateReservation(reservation persistence.Reservation) error {
	if reservation.ID == "" || reservation.RoomID == "" || len(reservation.Occupants) == 0 {
		return persistence.ErrConstraintViolation
	}
	if !reservation.End.After(reservation.Start) {
		return persistence.ErrConstraintViolation
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
