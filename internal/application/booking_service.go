package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/room-reservations/internal/lock"
	"github.com/example/room-reservations/internal/scheduler"
)

// ReservationStore persists reservations. Implementations return errors
// matching ErrNotFound, ErrSlotTaken (an overlapping write was refused),
// ErrIdempotencyMismatch (the key already exists) or ErrStoreUnavailable.
type ReservationStore interface {
	OverlapFinder
	CreateReservation(ctx context.Context, reservation Reservation, record *IdempotencyRecord) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	UpdateReservation(ctx context.Context, reservation Reservation) error
	DeleteReservation(ctx context.Context, id string) error
	SearchReservations(ctx context.Context, filter ReservationFilter) ([]Reservation, int, error)
	GetIdempotencyRecord(ctx context.Context, actorID, key string) (IdempotencyRecord, error)
}

// RoomCatalog resolves rooms by identifier. Unknown rooms yield ErrNotFound.
type RoomCatalog interface {
	GetRoom(ctx context.Context, id string) (Room, error)
}

// RoomLocker serializes mutations of a single room. Acquire blocks until the
// lock is held or ctx is done and returns the release function.
type RoomLocker interface {
	Acquire(ctx context.Context, roomID string) (release func(), err error)
}

// State is a step of the booking state machine.
type State string

const (
	StateRequested State = "requested"
	StateValidated State = "validated"
	StateCommitted State = "committed"
	StateApplied   State = "applied"
	StateRejected  State = "rejected"
)

// OutcomeObserver records the terminal state of each operation.
type OutcomeObserver interface {
	ObserveOutcome(operation string, state State, kind string, elapsed time.Duration)
}

// BookingServiceDeps wires the collaborators of a BookingService. Store is
// required. A nil Locker falls back to an in-process keyed mutex and a nil
// Rooms skips the room status gate.
type BookingServiceDeps struct {
	Store       ReservationStore
	Rooms       RoomCatalog
	Locker      RoomLocker
	Notifier    Notifier
	Observer    OutcomeObserver
	Policy      scheduler.Policy
	// MaxPageSize lowers the search limit cap below MaxPageSize when set.
	MaxPageSize int
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

// BookingService coordinates validation, conflict detection and persistence
// of room reservations.
type BookingService struct {
	store       ReservationStore
	rooms       RoomCatalog
	detector    *ConflictDetector
	locker      RoomLocker
	notifier    Notifier
	observer    OutcomeObserver
	policy      scheduler.Policy
	maxPageSize int
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewBookingService constructs a BookingService.
func NewBookingService(deps BookingServiceDeps) *BookingService {
	svc := &BookingService{
		store:       deps.Store,
		rooms:       deps.Rooms,
		detector:    NewConflictDetector(deps.Store),
		locker:      deps.Locker,
		notifier:    deps.Notifier,
		observer:    deps.Observer,
		policy:      deps.Policy,
		maxPageSize: deps.MaxPageSize,
		idGenerator: deps.IDGenerator,
		now:         deps.Now,
		logger:      defaultLogger(deps.Logger),
		tracer:      otel.Tracer("github.com/example/room-reservations/internal/application"),
	}
	if svc.locker == nil {
		svc.locker = lock.NewKeyedMutex()
	}
	if svc.notifier == nil {
		svc.notifier = noopNotifier{}
	}
	if svc.policy.MinDuration == 0 && svc.policy.MaxDuration == 0 {
		svc.policy = scheduler.DefaultPolicy()
	}
	if svc.idGenerator == nil {
		svc.idGenerator = uuid.NewString
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc
}

// Policy returns the booking policy in force.
func (s *BookingService) Policy() scheduler.Policy {
	return s.policy
}

// Create books params.RoomID for the requested window on behalf of the
// actor, who becomes the sole occupant. The returned flag reports whether
// the result is a replay of an earlier request with the same idempotency key.
func (s *BookingService) Create(ctx context.Context, params CreateReservationParams) (Reservation, bool, error) {
	if s == nil {
		return Reservation{}, false, fmt.Errorf("BookingService is nil")
	}
	actorID := strings.TrimSpace(params.Principal.UserID)
	roomID := strings.TrimSpace(params.RoomID)
	key := strings.TrimSpace(params.IdempotencyKey)

	ctx, span := s.tracer.Start(ctx, "BookingService.Create", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("actor.id", actorID),
	))
	defer span.End()

	logger := serviceLogger(ctx, s.logger, "BookingService", "Create", "room_id", roomID, "actor_id", actorID)
	run := s.begin(ctx, logger, "create")

	if actorID == "" {
		return Reservation{}, false, run.reject(ctx, span, ErrForbidden)
	}
	if roomID == "" {
		vErr := &ValidationError{Kind: KindInvalidFormat}
		vErr.add("room_id", "room id is required")
		return Reservation{}, false, run.reject(ctx, span, vErr)
	}

	window, err := s.policy.Validate(params.Start, params.End)
	if err != nil {
		return Reservation{}, false, run.reject(ctx, span, validationFromWindow(err))
	}

	fingerprint := ""
	if key != "" {
		fingerprint = requestFingerprint(actorID, roomID, window)
		replay, ok, err := s.replay(ctx, actorID, key, fingerprint)
		if err != nil {
			return Reservation{}, false, run.reject(ctx, span, err)
		}
		if ok {
			logger.InfoContext(ctx, "idempotent replay", "reservation_id", replay.ID)
			run.finish(ctx, span, StateCommitted)
			return replay, true, nil
		}
	}

	if err := s.ensureBookable(ctx, roomID); err != nil {
		return Reservation{}, false, run.reject(ctx, span, err)
	}
	run.advance(ctx, StateValidated)

	release, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return Reservation{}, false, run.reject(ctx, span, err)
	}
	defer release()

	conflicts, err := s.detector.FindConflicts(ctx, roomID, window, "")
	if err != nil {
		return Reservation{}, false, run.reject(ctx, span, s.storeError(err))
	}
	if len(conflicts) > 0 {
		return Reservation{}, false, run.reject(ctx, span, &ConflictError{RoomID: roomID, Window: window, Conflicts: conflicts})
	}

	now := scheduler.Canonicalize(s.now())
	reservation := Reservation{
		ID:        s.idGenerator(),
		RoomID:    roomID,
		Occupants: scheduler.NewOccupants(actorID),
		Window:    window,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var record *IdempotencyRecord
	if key != "" {
		record = &IdempotencyRecord{
			ActorID:       actorID,
			Key:           key,
			Fingerprint:   fingerprint,
			ReservationID: reservation.ID,
			CreatedAt:     now,
		}
	}

	if err := ctx.Err(); err != nil {
		return Reservation{}, false, run.reject(ctx, span, err)
	}
	if err := s.store.CreateReservation(ctx, reservation, record); err != nil {
		if errors.Is(err, ErrIdempotencyMismatch) && record != nil {
			// A concurrent request with the same key committed first.
			replay, ok, replayErr := s.replay(ctx, actorID, key, fingerprint)
			if replayErr == nil && ok {
				run.finish(ctx, span, StateCommitted)
				return replay, true, nil
			}
			if replayErr != nil {
				err = replayErr
			}
		}
		return Reservation{}, false, run.reject(ctx, span, s.writeError(ctx, err, roomID, window, ""))
	}

	run.finish(ctx, span, StateCommitted)
	logger.InfoContext(ctx, "reservation created", "reservation_id", reservation.ID, "window", window.String())
	s.emit(ctx, EventReservationCreated, reservation, actorID)
	return reservation, false, nil
}

// Get returns the reservation when the actor is one of its occupants.
func (s *BookingService) Get(ctx context.Context, id string, principal Principal) (Reservation, error) {
	if s == nil {
		return Reservation{}, fmt.Errorf("BookingService is nil")
	}
	ctx, span := s.tracer.Start(ctx, "BookingService.Get")
	defer span.End()

	logger := serviceLogger(ctx, s.logger, "BookingService", "Get", "reservation_id", id, "actor_id", principal.UserID)
	reservation, err := s.loadOwned(ctx, id, principal)
	if err != nil {
		logger.WarnContext(ctx, "get rejected", "error_kind", ErrorKind(err), "error", err)
		recordSpanError(span, err)
		return Reservation{}, err
	}
	return reservation, nil
}

// Update replaces the window of a reservation owned by the actor. Occupants
// and room are preserved.
func (s *BookingService) Update(ctx context.Context, params UpdateReservationParams) (Reservation, error) {
	if s == nil {
		return Reservation{}, fmt.Errorf("BookingService is nil")
	}
	id := strings.TrimSpace(params.ReservationID)
	ctx, span := s.tracer.Start(ctx, "BookingService.Update", trace.WithAttributes(attribute.String("reservation.id", id)))
	defer span.End()

	logger := serviceLogger(ctx, s.logger, "BookingService", "Update", "reservation_id", id, "actor_id", params.Principal.UserID)
	run := s.begin(ctx, logger, "update")

	existing, err := s.loadOwned(ctx, id, params.Principal)
	if err != nil {
		return Reservation{}, run.reject(ctx, span, err)
	}

	window, err := s.policy.Validate(params.Start, params.End)
	if err != nil {
		return Reservation{}, run.reject(ctx, span, validationFromWindow(err))
	}

	release, err := s.lockRoom(ctx, existing.RoomID)
	if err != nil {
		return Reservation{}, run.reject(ctx, span, err)
	}
	defer release()

	conflicts, err := s.detector.FindConflicts(ctx, existing.RoomID, window, existing.ID)
	if err != nil {
		return Reservation{}, run.reject(ctx, span, s.storeError(err))
	}
	if len(conflicts) > 0 {
		return Reservation{}, run.reject(ctx, span, &ConflictError{RoomID: existing.RoomID, Window: window, Conflicts: conflicts})
	}

	updated := existing
	updated.Window = window
	updated.UpdatedAt = scheduler.Canonicalize(s.now())

	if err := ctx.Err(); err != nil {
		return Reservation{}, run.reject(ctx, span, err)
	}
	if err := s.store.UpdateReservation(ctx, updated); err != nil {
		return Reservation{}, run.reject(ctx, span, s.writeError(ctx, err, existing.RoomID, window, existing.ID))
	}

	run.finish(ctx, span, StateApplied)
	logger.InfoContext(ctx, "reservation updated", "window", window.String())
	s.emit(ctx, EventReservationUpdated, updated, params.Principal.UserID)
	return updated, nil
}

// Delete removes a reservation owned by the actor.
func (s *BookingService) Delete(ctx context.Context, id string, principal Principal) error {
	if s == nil {
		return fmt.Errorf("BookingService is nil")
	}
	id = strings.TrimSpace(id)
	ctx, span := s.tracer.Start(ctx, "BookingService.Delete", trace.WithAttributes(attribute.String("reservation.id", id)))
	defer span.End()

	logger := serviceLogger(ctx, s.logger, "BookingService", "Delete", "reservation_id", id, "actor_id", principal.UserID)
	run := s.begin(ctx, logger, "delete")

	existing, err := s.loadOwned(ctx, id, principal)
	if err != nil {
		return run.reject(ctx, span, err)
	}
	if err := ctx.Err(); err != nil {
		return run.reject(ctx, span, err)
	}
	if err := s.store.DeleteReservation(ctx, existing.ID); err != nil {
		return run.reject(ctx, span, s.storeError(err))
	}

	run.finish(ctx, span, StateApplied)
	logger.InfoContext(ctx, "reservation deleted")
	s.emit(ctx, EventReservationDeleted, existing, principal.UserID)
	return nil
}

// Search returns one page of reservations matching params, newest window
// first. An empty result is an empty page.
func (s *BookingService) Search(ctx context.Context, params SearchReservationsParams) (ReservationPage, error) {
	if s == nil {
		return ReservationPage{}, fmt.Errorf("BookingService is nil")
	}
	ctx, span := s.tracer.Start(ctx, "BookingService.Search")
	defer span.End()

	page, limit := NormalizePaging(params.Page, params.Limit)
	if s.maxPageSize > 0 {
		limit = min(limit, s.maxPageSize)
	}
	logger := serviceLogger(ctx, s.logger, "BookingService", "Search",
		"room_id", params.RoomID, "occupant", params.Occupant, "page", page, "limit", limit)

	filter := ReservationFilter{
		RoomID:   strings.TrimSpace(params.RoomID),
		Occupant: strings.TrimSpace(params.Occupant),
		Offset:   (page - 1) * limit,
		Limit:    limit,
	}
	if params.StartsFrom != nil {
		from := scheduler.Canonicalize(*params.StartsFrom)
		filter.StartsFrom = &from
	}
	if params.EndsBy != nil {
		by := scheduler.Canonicalize(*params.EndsBy)
		filter.EndsBy = &by
	}

	items, total, err := s.store.SearchReservations(ctx, filter)
	if err != nil {
		err = s.storeError(err)
		logger.ErrorContext(ctx, "search failed", "error_kind", ErrorKind(err), "error", err)
		recordSpanError(span, err)
		return ReservationPage{}, err
	}
	if items == nil {
		items = []Reservation{}
	}
	logger.DebugContext(ctx, "search completed", "returned", len(items), "total", total)
	return ReservationPage{Items: items, Page: page, Limit: limit, Total: total}, nil
}

// ListMine returns the reservations in which the actor is an occupant.
func (s *BookingService) ListMine(ctx context.Context, principal Principal, page, limit int) (ReservationPage, error) {
	if strings.TrimSpace(principal.UserID) == "" {
		return ReservationPage{}, ErrForbidden
	}
	return s.Search(ctx, SearchReservationsParams{
		Principal: principal,
		Occupant:  principal.UserID,
		Page:      page,
		Limit:     limit,
	})
}

func (s *BookingService) loadOwned(ctx context.Context, id string, principal Principal) (Reservation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Reservation{}, fmt.Errorf("%w: reservation id is required", ErrNotFound)
	}
	reservation, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, s.storeError(err)
	}
	if !reservation.IsOccupant(strings.TrimSpace(principal.UserID)) {
		return Reservation{}, ErrForbidden
	}
	return reservation, nil
}

func (s *BookingService) ensureBookable(ctx context.Context, roomID string) error {
	if s.rooms == nil {
		return nil
	}
	room, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: room %s", ErrNotFound, roomID)
		}
		return s.storeError(err)
	}
	if !room.Bookable() {
		return fmt.Errorf("%w: room %s is %s", ErrRoomUnavailable, roomID, room.Status)
	}
	return nil
}

func (s *BookingService) lockRoom(ctx context.Context, roomID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, roomID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: acquire room lock: %v", ErrStoreUnavailable, err)
	}
	return release, nil
}

func (s *BookingService) replay(ctx context.Context, actorID, key, fingerprint string) (Reservation, bool, error) {
	record, err := s.store.GetIdempotencyRecord(ctx, actorID, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Reservation{}, false, nil
		}
		return Reservation{}, false, s.storeError(err)
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, false, ErrIdempotencyMismatch
	}
	reservation, err := s.store.GetReservation(ctx, record.ReservationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The original was deleted since; the key stays spent.
			return Reservation{}, false, fmt.Errorf("%w: reservation for key was deleted", ErrIdempotencyMismatch)
		}
		return Reservation{}, false, s.storeError(err)
	}
	return reservation, true, nil
}

// writeError maps a failed create or update. A refused overlapping write is
// reported with the conflicts that caused it.
func (s *BookingService) writeError(ctx context.Context, err error, roomID string, window scheduler.Window, excludeID string) error {
	if !errors.Is(err, ErrSlotTaken) {
		return s.storeError(err)
	}
	conflicts, lookupErr := s.detector.FindConflicts(ctx, roomID, window, excludeID)
	if lookupErr != nil {
		conflicts = nil
	}
	return &ConflictError{RoomID: roomID, Window: window, Conflicts: conflicts}
}

func (s *BookingService) storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrIdempotencyMismatch),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (s *BookingService) emit(ctx context.Context, eventType EventType, reservation Reservation, actorID string) {
	event := eventFor(eventType, reservation, actorID, scheduler.Canonicalize(s.now()))
	s.notifier.Notify(context.WithoutCancel(ctx), event)
}

type operationRun struct {
	operation string
	state     State
	started   time.Time
	logger    *slog.Logger
	observer  OutcomeObserver
}

func (s *BookingService) begin(ctx context.Context, logger *slog.Logger, operation string) *operationRun {
	run := &operationRun{
		operation: operation,
		state:     StateRequested,
		started:   time.Now(),
		logger:    logger,
		observer:  s.observer,
	}
	logger.DebugContext(ctx, "state transition", "state", string(StateRequested))
	return run
}

func (r *operationRun) advance(ctx context.Context, next State) {
	r.logger.DebugContext(ctx, "state transition", "from", string(r.state), "state", string(next))
	r.state = next
}

func (r *operationRun) finish(ctx context.Context, span trace.Span, terminal State) {
	r.advance(ctx, terminal)
	span.SetAttributes(attribute.String("booking.state", string(terminal)))
	if r.observer != nil {
		r.observer.ObserveOutcome(r.operation, terminal, "", time.Since(r.started))
	}
}

func (r *operationRun) reject(ctx context.Context, span trace.Span, err error) error {
	kind := ErrorKind(err)
	r.logger.DebugContext(ctx, "state transition", "from", string(r.state), "state", string(StateRejected), "error_kind", kind)
	r.state = StateRejected

	switch KindOf(err) {
	case KindStoreUnavailable, KindUnexpected:
		r.logger.ErrorContext(ctx, r.operation+" failed", "error_kind", kind, "error", err)
	case KindCanceled:
		r.logger.InfoContext(ctx, r.operation+" abandoned by caller", "error_kind", kind)
	default:
		r.logger.WarnContext(ctx, r.operation+" rejected", "error_kind", kind, "error", err)
	}
	recordSpanError(span, err)
	if r.observer != nil {
		r.observer.ObserveOutcome(r.operation, StateRejected, kind, time.Since(r.started))
	}
	return err
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, ErrorKind(err))
}
