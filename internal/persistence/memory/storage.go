// Package memory provides an in-process implementation of the persistence
// repositories. It enforces the same overlap exclusion as the SQLite store
// and backs unit tests that do not need a database file.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/example/room-reservations/internal/persistence"
	"github.com/example/room-reservations/internal/scheduler"
)

var defaultRolePermissions = map[string][]string{
	"admin": {
		"create_room", "update_room", "delete_room", "manage_users", "manage_permissions",
		"create_reservation", "update_reservation", "delete_reservation", "view_reservations",
	},
	"employee": {"create_reservation", "update_reservation", "delete_reservation", "view_reservations"},
	"user":     {"create_reservation", "update_reservation", "delete_reservation", "view_reservations"},
}

type idempotencyKey struct {
	actorID string
	key     string
}

// Storage keeps every record in maps guarded by one lock.
type Storage struct {
	mu           sync.RWMutex
	rooms        map[string]persistence.Room
	users        map[string]persistence.User
	reservations map[string]persistence.Reservation
	idempotency  map[idempotencyKey]persistence.IdempotencyRecord
	userRoles    map[string][]string
	roles        map[string][]string
}

// Open returns an empty Storage with the default roles seeded.
func Open() *Storage {
	roles := make(map[string][]string, len(defaultRolePermissions))
	for role, perms := range defaultRolePermissions {
		roles[role] = slices.Clone(perms)
	}
	return &Storage{
		rooms:        make(map[string]persistence.Room),
		users:        make(map[string]persistence.User),
		reservations: make(map[string]persistence.Reservation),
		idempotency:  make(map[idempotencyKey]persistence.IdempotencyRecord),
		userRoles:    make(map[string][]string),
		roles:        roles,
	}
}

// Migrate is a no-op.
func (s *Storage) Migrate(context.Context) error { return nil }

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Storage) Close() error { return nil }

// --- reservations ---

// CreateReservation stores reservation unless it overlaps another one of the
// same room.
func (s *Storage) CreateReservation(ctx context.Context, reservation persistence.Reservation, record *persistence.IdempotencyRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validReservation(reservation) {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[reservation.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := s.rooms[reservation.RoomID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	if s.overlapsLocked(reservation) {
		return persistence.ErrOverlap
	}
	if record != nil {
		key := idempotencyKey{actorID: record.ActorID, key: record.Key}
		if _, ok := s.idempotency[key]; ok {
			return persistence.ErrDuplicate
		}
		stored := *record
		stored.ReservationID = reservation.ID
		s.idempotency[key] = stored
	}
	s.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

// GetReservation loads one reservation.
func (s *Storage) GetReservation(ctx context.Context, id string) (persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reservation, ok := s.reservations[id]
	if !ok {
		return persistence.Reservation{}, persistence.ErrNotFound
	}
	return cloneReservation(reservation), nil
}

// UpdateReservation replaces an existing reservation.
func (s *Storage) UpdateReservation(ctx context.Context, reservation persistence.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validReservation(reservation) {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.reservations[reservation.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	if s.overlapsLocked(reservation) {
		return persistence.ErrOverlap
	}
	reservation.CreatedAt = existing.CreatedAt
	s.reservations[reservation.ID] = cloneReservation(reservation)
	return nil
}

// DeleteReservation removes a reservation and its idempotency records.
func (s *Storage) DeleteReservation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reservations[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.reservations, id)
	for key, record := range s.idempotency {
		if record.ReservationID == id {
			delete(s.idempotency, key)
		}
	}
	return nil
}

// FindOverlapping returns the reservations of roomID overlapping [start, end).
func (s *Storage) FindOverlapping(ctx context.Context, roomID string, start, end time.Time, excludeID string) ([]persistence.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidate := scheduler.Window{Start: start, End: end}
	var matches []persistence.Reservation
	for _, reservation := range s.reservations {
		if reservation.RoomID != roomID || reservation.ID == excludeID {
			continue
		}
		if scheduler.Overlaps(windowOf(reservation), candidate) {
			matches = append(matches, cloneReservation(reservation))
		}
	}
	slices.SortFunc(matches, func(a, b persistence.Reservation) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return matches, nil
}

// SearchReservations filters, orders newest window first and pages.
func (s *Storage) SearchReservations(ctx context.Context, filter persistence.ReservationFilter) ([]persistence.Reservation, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []persistence.Reservation
	for _, reservation := range s.reservations {
		if matchesFilter(reservation, filter) {
			matches = append(matches, reservation)
		}
	}
	slices.SortFunc(matches, func(a, b persistence.Reservation) int {
		if c := b.Start.Compare(a.Start); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(matches)
	offset := max(filter.Offset, 0)
	if filter.Limit <= 0 || offset >= total {
		return nil, total, nil
	}
	end := min(offset+filter.Limit, total)
	page := make([]persistence.Reservation, 0, end-offset)
	for _, reservation := range matches[offset:end] {
		page = append(page, cloneReservation(reservation))
	}
	return page, total, nil
}

// GetIdempotencyRecord loads a stored idempotency record.
func (s *Storage) GetIdempotencyRecord(ctx context.Context, actorID, key string) (persistence.IdempotencyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.idempotency[idempotencyKey{actorID: actorID, key: key}]
	if !ok {
		return persistence.IdempotencyRecord{}, persistence.ErrNotFound
	}
	return record, nil
}

// --- rooms and users ---

// UpsertRoom stores room.
func (s *Storage) UpsertRoom(ctx context.Context, room persistence.Room) error {
	if room.ID == "" || room.Name == "" {
		return persistence.ErrConstraintViolation
	}
	if room.Status == "" {
		room.Status = persistence.RoomAvailable
	}
	s.mu.Lock()
	s.rooms[room.ID] = room
	s.mu.Unlock()
	return nil
}

// GetRoom loads a room.
func (s *Storage) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return room, nil
}

// UpsertUser stores user.
func (s *Storage) UpsertUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" {
		return persistence.ErrConstraintViolation
	}
	s.mu.Lock()
	s.users[user.ID] = user
	s.mu.Unlock()
	return nil
}

// GetUser loads a user.
func (s *Storage) GetUser(ctx context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// --- permissions ---

// AssignRole grants role to userID.
func (s *Storage) AssignRole(ctx context.Context, userID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[role]; !ok {
		return persistence.ErrNotFound
	}
	if !slices.Contains(s.userRoles[userID], role) {
		s.userRoles[userID] = append(s.userRoles[userID], role)
		slices.Sort(s.userRoles[userID])
	}
	return nil
}

// UserRoles lists the roles of userID.
func (s *Storage) UserRoles(ctx context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.userRoles[userID]), nil
}

// HasPermission reports whether any role of userID carries permission.
func (s *Storage) HasPermission(ctx context.Context, userID, permission string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, role := range s.userRoles[userID] {
		if slices.Contains(s.roles[role], permission) {
			return true, nil
		}
	}
	return false, nil
}

// RoleHasPermission reports whether role carries permission.
func (s *Storage) RoleHasPermission(ctx context.Context, role, permission string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.roles[role], permission), nil
}

func (s *Storage) overlapsLocked(candidate persistence.Reservation) bool {
	w := windowOf(candidate)
	for _, existing := range s.reservations {
		if existing.ID == candidate.ID || existing.RoomID != candidate.RoomID {
			continue
		}
		if scheduler.Overlaps(windowOf(existing), w) {
			return true
		}
	}
	return false
}

func matchesFilter(reservation persistence.Reservation, filter persistence.ReservationFilter) bool {
	if filter.RoomID != "" && reservation.RoomID != filter.RoomID {
		return false
	}
	if filter.Occupant != "" && !slices.Contains(reservation.Occupants, filter.Occupant) {
		return false
	}
	if filter.StartsFrom != nil && reservation.Start.Before(*filter.StartsFrom) {
		return false
	}
	if filter.EndsBy != nil && reservation.End.After(*filter.EndsBy) {
		return false
	}
	return true
}

func windowOf(reservation persistence.Reservation) scheduler.Window {
	return scheduler.Window{Start: reservation.Start, End: reservation.End}
}

func validReservation(reservation persistence.Reservation) bool {
	return reservation.ID != "" && reservation.RoomID != "" && len(reservation.Occupants) > 0 &&
		reservation.End.After(reservation.Start)
}

func cloneReservation(reservation persistence.Reservation) persistence.Reservation {
	reservation.Occupants = slices.Clone(reservation.Occupants)
	return reservation
}

