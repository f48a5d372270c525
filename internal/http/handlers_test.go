package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/scheduler"
)

var testSecret = []byte("test-secret")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

type fakeReservationService struct {
	mu sync.Mutex

	createResult   application.Reservation
	createReplayed bool
	createErr      error
	getResult      application.Reservation
	getErr         error
	updateErr      error
	deleteErr      error
	pageResult     application.ReservationPage
	searchErr      error

	lastCreate application.CreateReservationParams
	lastUpdate application.UpdateReservationParams
	lastSearch application.SearchReservationsParams
	lastDelete string
}

func (f *fakeReservationService) Create(_ context.Context, params application.CreateReservationParams) (application.Reservation, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCreate = params
	return f.createResult, f.createReplayed, f.createErr
}

func (f *fakeReservationService) Get(_ context.Context, id string, _ application.Principal) (application.Reservation, error) {
	return f.getResult, f.getErr
}

func (f *fakeReservationService) Update(_ context.Context, params application.UpdateReservationParams) (application.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = params
	return f.getResult, f.updateErr
}

func (f *fakeReservationService) Delete(_ context.Context, id string, _ application.Principal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDelete = id
	return f.deleteErr
}

func (f *fakeReservationService) Search(_ context.Context, params application.SearchReservationsParams) (application.ReservationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSearch = params
	return f.pageResult, f.searchErr
}

func (f *fakeReservationService) ListMine(_ context.Context, principal application.Principal, page, limit int) (application.ReservationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSearch = application.SearchReservationsParams{Principal: principal, Occupant: principal.UserID, Page: page, Limit: limit}
	return f.pageResult, f.searchErr
}

func (f *fakeReservationService) Policy() scheduler.Policy {
	return scheduler.DefaultPolicy()
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func sampleReservation() application.Reservation {
	start := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	return application.Reservation{
		ID:        "res-001",
		RoomID:    "1",
		Occupants: scheduler.NewOccupants("alice"),
		Window:    scheduler.NewWindow(start, start.Add(time.Hour)),
		CreatedAt: start.Add(-time.Hour),
		UpdatedAt: start.Add(-time.Hour),
	}
}

func newTestRouter(service reservationService, health pinger) http.Handler {
	logger := discardLogger()
	return NewRouter(RouterConfig{
		Reservations: NewReservationHandler(service, logger),
		Health:       NewHealthHandler(health, logger),
		JWTSecret:    testSecret,
		Logger:       logger,
	})
}

func doRequest(t *testing.T, handler http.Handler, method, target, body, actor string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if actor != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": actor}))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestReservationHandlers_Create(t *testing.T) {
	t.Parallel()

	t.Run("returns 201 with the canonical reservation", func(t *testing.T) {
		t.Parallel()
		svc := &fakeReservationService{createResult: sampleReservation()}
		router := newTestRouter(svc, nil)

		rec := doRequest(t, router, http.MethodPost, "/reservations",
			`{"roomId":1,"startDatetime":"2025-07-01T09:00:00Z","endDatetime":"2025-07-01T10:00:00Z"}`, "alice")
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		dto := decodeBody[reservationDTO](t, rec)
		if dto.ID != "res-001" || dto.StartDatetime != "2025-07-01T09:00:00Z" || dto.EndDatetime != "2025-07-01T10:00:00Z" {
			t.Fatalf("unexpected body %+v", dto)
		}
		if len(dto.Occupants) != 1 || dto.Occupants[0] != "alice" {
			t.Fatalf("unexpected occupants %v", dto.Occupants)
		}
		if svc.lastCreate.RoomID != "1" || svc.lastCreate.Principal.UserID != "alice" {
			t.Fatalf("unexpected params %+v", svc.lastCreate)
		}
		if rec.Header().Get("Location") != "/reservations/res-001" {
			t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
		}
	})

	t.Run("replayed idempotent request answers 200", func(t *testing.T) {
		t.Parallel()
		svc := &fakeReservationService{createResult: sampleReservation(), createReplayed: true}
		router := newTestRouter(svc, nil)

		req := httptest.NewRequest(http.MethodPost, "/reservations",
			strings.NewReader(`{"roomId":"1","startDatetime":"2025-07-01T09:00:00Z","endDatetime":"2025-07-01T10:00:00Z"}`))
		req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "alice"}))
		req.Header.Set(IdempotencyKeyHeader, "key-1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK || rec.Header().Get("Idempotent-Replayed") != "true" {
			t.Fatalf("expected replay, got %d %v", rec.Code, rec.Header())
		}
		if svc.lastCreate.IdempotencyKey != "key-1" {
			t.Fatalf("idempotency key not forwarded: %+v", svc.lastCreate)
		}
	})

	t.Run("rejects malformed bodies and missing room", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&fakeReservationService{}, nil)

		for _, body := range []string{`{`, `{"roomId":1.5}`, `{"startDatetime":"2025-07-01T09:00:00Z"}`} {
			rec := doRequest(t, router, http.MethodPost, "/reservations", body, "alice")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
			}
		}
	})
}

func TestReservationHandlers_InvalidFormatCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{name: "create with truncated body", method: http.MethodPost, target: "/reservations", body: `{`},
		{name: "create without room", method: http.MethodPost, target: "/reservations", body: `{"startDatetime":"2025-07-01T09:00:00Z"}`},
		{name: "update with truncated body", method: http.MethodPut, target: "/reservations/res-001", body: `{`},
		{name: "mine with non numeric page", method: http.MethodGet, target: "/reservations/me?page=x"},
		{name: "search with unparsable bound", method: http.MethodGet, target: "/reservations?startDate=yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			router := newTestRouter(&fakeReservationService{getResult: sampleReservation()}, nil)
			rec := doRequest(t, router, tt.method, tt.target, tt.body, "alice")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if body := decodeBody[errorResponse](t, rec); body.ErrorCode != "INVALID_FORMAT" {
				t.Fatalf("expected INVALID_FORMAT, got %q", body.ErrorCode)
			}
		})
	}
}

func TestReservationHandlers_ErrorMapping(t *testing.T) {
	t.Parallel()

	conflict := sampleReservation()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		check      func(t *testing.T, body errorResponse)
	}{
		{
			name: "duration violation carries bounds",
			err: &application.ValidationError{
				Kind:        application.KindDurationViolation,
				FieldErrors: map[string]string{"endDatetime": "too short"},
				Duration:    &application.DurationBounds{Actual: 30 * time.Minute, Min: time.Hour, Max: 2 * time.Hour},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "DURATION_VIOLATION",
			check: func(t *testing.T, body errorResponse) {
				if body.Details == nil || body.Details.Actual != "30m0s" || body.Details.Min != "1h0m0s" || body.Details.Max != "2h0m0s" {
					t.Fatalf("unexpected details %+v", body.Details)
				}
				if body.Errors["endDatetime"] == "" {
					t.Fatalf("expected field errors, got %v", body.Errors)
				}
			},
		},
		{
			name:       "invalid range",
			err:        &application.ValidationError{Kind: application.KindInvalidRange},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_RANGE",
		},
		{
			name:       "outside opening hours",
			err:        &application.ValidationError{Kind: application.KindOutsideOpeningHours},
			wantStatus: http.StatusBadRequest,
			wantCode:   "OUTSIDE_OPENING_HOURS",
		},
		{
			name:       "slot taken lists conflicts",
			err:        &application.ConflictError{RoomID: "1", Window: conflict.Window, Conflicts: []application.Reservation{conflict}},
			wantStatus: http.StatusConflict,
			wantCode:   "SLOT_TAKEN",
			check: func(t *testing.T, body errorResponse) {
				if len(body.Conflicts) != 1 || body.Conflicts[0].ID != conflict.ID {
					t.Fatalf("unexpected conflicts %+v", body.Conflicts)
				}
			},
		},
		{name: "room unavailable", err: application.ErrRoomUnavailable, wantStatus: http.StatusConflict, wantCode: "ROOM_UNAVAILABLE"},
		{name: "idempotency mismatch", err: application.ErrIdempotencyMismatch, wantStatus: http.StatusConflict, wantCode: "IDEMPOTENCY_MISMATCH"},
		{name: "not found", err: application.ErrNotFound, wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "forbidden", err: application.ErrForbidden, wantStatus: http.StatusForbidden, wantCode: "FORBIDDEN"},
		{name: "store unavailable", err: application.ErrStoreUnavailable, wantStatus: http.StatusServiceUnavailable, wantCode: "STORE_UNAVAILABLE"},
		{name: "client went away", err: fmt.Errorf("acquire lock: %w", context.Canceled), wantStatus: 499, wantCode: "CANCELED"},
		{name: "unexpected", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			router := newTestRouter(&fakeReservationService{createErr: tc.err}, nil)
			rec := doRequest(t, router, http.MethodPost, "/reservations",
				`{"roomId":1,"startDatetime":"2025-07-01T09:00:00Z","endDatetime":"2025-07-01T09:30:00Z"}`, "alice")
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			body := decodeBody[errorResponse](t, rec)
			if body.ErrorCode != tc.wantCode || body.Message == "" {
				t.Fatalf("unexpected body %+v", body)
			}
			if tc.check != nil {
				tc.check(t, body)
			}
		})
	}
}

func TestReservationHandlers_ItemRoutes(t *testing.T) {
	t.Parallel()

	t.Run("get returns the reservation", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&fakeReservationService{getResult: sampleReservation()}, nil)
		rec := doRequest(t, router, http.MethodGet, "/reservations/res-001", "", "alice")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if dto := decodeBody[reservationDTO](t, rec); dto.ID != "res-001" {
			t.Fatalf("unexpected body %+v", dto)
		}
	})

	t.Run("update forwards the path id and window", func(t *testing.T) {
		t.Parallel()
		svc := &fakeReservationService{getResult: sampleReservation()}
		router := newTestRouter(svc, nil)
		rec := doRequest(t, router, http.MethodPut, "/reservations/res-001",
			`{"startDatetime":"2025-07-01T11:00:00Z","endDatetime":"2025-07-01T12:00:00Z"}`, "alice")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if svc.lastUpdate.ReservationID != "res-001" || svc.lastUpdate.Start != "2025-07-01T11:00:00Z" {
			t.Fatalf("unexpected params %+v", svc.lastUpdate)
		}
	})

	t.Run("delete by non occupant is forbidden", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&fakeReservationService{deleteErr: application.ErrForbidden}, nil)
		rec := doRequest(t, router, http.MethodDelete, "/reservations/res-001", "", "mallory")
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("delete answers 200", func(t *testing.T) {
		t.Parallel()
		svc := &fakeReservationService{}
		router := newTestRouter(svc, nil)
		rec := doRequest(t, router, http.MethodDelete, "/reservations/res-001", "", "alice")
		if rec.Code != http.StatusOK || svc.lastDelete != "res-001" {
			t.Fatalf("expected 200 for res-001, got %d %q", rec.Code, svc.lastDelete)
		}
	})

	t.Run("unsupported method answers 405", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&fakeReservationService{}, nil)
		rec := doRequest(t, router, http.MethodPatch, "/reservations/res-001", "", "alice")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rec.Code)
		}
	})
}

func TestReservationHandlers_Search(t *testing.T) {
	t.Parallel()

	t.Run("date only bounds cover whole days", func(t *testing.T) {
		t.Parallel()
		svc := &fakeReservationService{pageResult: application.ReservationPage{
			Items: []application.Reservation{sampleReservation()}, Page: 1, Limit: 5, Total: 6,
		}}
		router := newTestRouter(svc, nil)

		rec := doRequest(t, router, http.MethodGet, "/reservations?roomId=1&startDate=2025-07-01&endDate=2025-07-01&page=1&limit=5", "", "bob")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		params := svc.lastSearch
		if params.RoomID != "1" || params.Page != 1 || params.Limit != 5 {
			t.Fatalf("unexpected params %+v", params)
		}
		if params.StartsFrom == nil || !params.StartsFrom.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected start bound %v", params.StartsFrom)
		}
		if params.EndsBy == nil || !params.EndsBy.Equal(time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected end bound %v", params.EndsBy)
		}

		body := decodeBody[pageResponse[conflictDTO]](t, rec)
		if len(body.Items) != 1 || body.Total != 6 || !body.HasNext {
			t.Fatalf("unexpected page %+v", body)
		}
		if strings.Contains(rec.Body.String(), "occupants") {
			t.Fatalf("search must not expose occupants: %s", rec.Body.String())
		}
	})

	t.Run("empty result is an empty list", func(t *testing.T) {
		t.Parallel()
		svc := &fakeReservationService{pageResult: application.ReservationPage{Page: 3, Limit: 10}}
		router := newTestRouter(svc, nil)
		rec := doRequest(t, router, http.MethodGet, "/reservations?page=3", "", "bob")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"items":[]`) {
			t.Fatalf("expected empty items, got %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("malformed bounds and paging answer 400", func(t *testing.T) {
		t.Parallel()
		router := newTestRouter(&fakeReservationService{}, nil)
		for _, target := range []string{"/reservations?startDate=yesterday", "/reservations?limit=ten", "/reservations/me?page=x"} {
			rec := doRequest(t, router, http.MethodGet, target, "", "bob")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("%s: expected 400, got %d", target, rec.Code)
			}
		}
	})

	t.Run("mine scopes to the caller", func(t *testing.T) {
		t.Parallel()
		svc := &fakeReservationService{pageResult: application.ReservationPage{Page: 2, Limit: 5}}
		router := newTestRouter(svc, nil)
		rec := doRequest(t, router, http.MethodGet, "/reservations/me?page=2&limit=5", "", "carol")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if svc.lastSearch.Occupant != "carol" || svc.lastSearch.Page != 2 {
			t.Fatalf("unexpected params %+v", svc.lastSearch)
		}
	})
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	ok := newTestRouter(&fakeReservationService{}, fakePinger{})
	if rec := doRequest(t, ok, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	down := newTestRouter(&fakeReservationService{}, fakePinger{err: errors.New("disk gone")})
	if rec := doRequest(t, down, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRouterWithoutSecretMountsOnlyPublicRoutes(t *testing.T) {
	t.Parallel()

	logger := discardLogger()
	router := NewRouter(RouterConfig{
		Reservations: NewReservationHandler(&fakeReservationService{}, logger),
		Health:       NewHealthHandler(fakePinger{}, logger),
		Logger:       logger,
	})

	if rec := doRequest(t, router, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodGet, "/reservations", "", "alice"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unmounted route, got %d", rec.Code)
	}
}
