package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/scheduler"
)

// IdempotencyKeyHeader carries the client supplied retry key on create.
const IdempotencyKeyHeader = "Idempotency-Key"

const dateOnlyLayout = "2006-01-02"

type reservationService interface {
	Create(ctx context.Context, params application.CreateReservationParams) (application.Reservation, bool, error)
	Get(ctx context.Context, id string, principal application.Principal) (application.Reservation, error)
	Update(ctx context.Context, params application.UpdateReservationParams) (application.Reservation, error)
	Delete(ctx context.Context, id string, principal application.Principal) error
	Search(ctx context.Context, params application.SearchReservationsParams) (application.ReservationPage, error)
	ListMine(ctx context.Context, principal application.Principal, page, limit int) (application.ReservationPage, error)
	Policy() scheduler.Policy
}

type ReservationHandler struct {
	service   reservationService
	responder responder
	logger    *slog.Logger
}

func NewReservationHandler(service reservationService, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{service: service, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errorCode(application.KindInvalidFormat), errBadRequestBody)
		return
	}
	if strings.TrimSpace(string(req.RoomID)) == "" {
		h.responder.handleServiceError(ctx, w, &application.ValidationError{
			Kind:        application.KindInvalidFormat,
			FieldErrors: map[string]string{"roomId": errInvalidRoomID.Error()},
		})
		return
	}

	principal, _ := PrincipalFromContext(ctx)
	reservation, replayed, err := h.service.Create(ctx, application.CreateReservationParams{
		Principal:      principal,
		RoomID:         string(req.RoomID),
		Start:          req.StartDatetime,
		End:            req.EndDatetime,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	})
	if err != nil {
		h.responder.handleServiceError(ctx, w, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	w.Header().Set("Location", "/reservations/"+url.PathEscape(reservation.ID))
	handlerLogger(ctx, h.logger, "ReservationHandler", "Create").
		InfoContext(ctx, "reservation accepted", "reservation_id", reservation.ID, "replayed", replayed)
	h.responder.writeJSON(ctx, w, status, toReservationDTO(reservation))
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := reservationIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errorCode(application.KindInvalidFormat), errInvalidReservationID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	reservation, err := h.service.Get(r.Context(), id, principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReservationDTO(reservation))
}

func (h *ReservationHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := reservationIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errorCode(application.KindInvalidFormat), errInvalidReservationID)
		return
	}

	var req updateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errorCode(application.KindInvalidFormat), errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	reservation, err := h.service.Update(r.Context(), application.UpdateReservationParams{
		Principal:     principal,
		ReservationID: id,
		Start:         req.StartDatetime,
		End:           req.EndDatetime,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toReservationDTO(reservation))
}

func (h *ReservationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	id, ok := reservationIDParam(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errorCode(application.KindInvalidFormat), errInvalidReservationID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), id, principal); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, deleteReservationResponse{
		ID:      id,
		Message: "予約を削除しました。",
	})
}

func (h *ReservationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	page, limit, err := pagingParams(r.URL.Query())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.service.ListMine(r.Context(), principal, page, limit)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	items := make([]reservationDTO, 0, len(result.Items))
	for _, reservation := range result.Items {
		items = append(items, toReservationDTO(reservation))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newPageResponse(items, result))
}

// Search lists room occupancy. Occupants are not part of the response.
func (h *ReservationHandler) Search(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	params, err := buildSearchParams(r.URL.Query(), principal, h.service.Policy())
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	result, err := h.service.Search(r.Context(), params)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, newPageResponse(toConflictDTOs(result.Items), result))
}

func reservationIDParam(r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	return id, id != ""
}

func buildSearchParams(values url.Values, principal application.Principal, policy scheduler.Policy) (application.SearchReservationsParams, error) {
	params := application.SearchReservationsParams{
		Principal: principal,
		RoomID:    strings.TrimSpace(values.Get("roomId")),
	}
	vErr := &application.ValidationError{Kind: application.KindInvalidFormat, FieldErrors: map[string]string{}}

	if raw := strings.TrimSpace(values.Get("startDate")); raw != "" {
		from, err := parseSearchBound("startDate", raw, policy, false)
		if err != nil {
			vErr.FieldErrors["startDate"] = err.Error()
		} else {
			params.StartsFrom = &from
		}
	}
	if raw := strings.TrimSpace(values.Get("endDate")); raw != "" {
		by, err := parseSearchBound("endDate", raw, policy, true)
		if err != nil {
			vErr.FieldErrors["endDate"] = err.Error()
		} else {
			params.EndsBy = &by
		}
	}

	page, limit, err := pagingParams(values)
	if err != nil {
		return params, err
	}
	params.Page, params.Limit = page, limit

	if vErr.HasErrors() {
		return params, vErr
	}
	return params, nil
}

// parseSearchBound accepts a date or a date-time. A date-only end bound means
// the end of that day, which is the following midnight.
func parseSearchBound(field, raw string, policy scheduler.Policy, endOfDay bool) (time.Time, error) {
	loc := policy.Location
	if loc == nil {
		loc = time.UTC
	}
	if day, err := time.ParseInLocation(dateOnlyLayout, raw, loc); err == nil {
		if endOfDay {
			day = day.AddDate(0, 0, 1)
		}
		return scheduler.Canonicalize(day), nil
	}
	return policy.ParseInput(field, raw)
}

func pagingParams(values url.Values) (int, int, error) {
	page, pageErr := optionalInt(values.Get("page"))
	limit, limitErr := optionalInt(values.Get("limit"))
	if pageErr == nil && limitErr == nil {
		return page, limit, nil
	}

	vErr := &application.ValidationError{Kind: application.KindInvalidFormat, FieldErrors: map[string]string{}}
	if pageErr != nil {
		vErr.FieldErrors["page"] = pageErr.Error()
	}
	if limitErr != nil {
		vErr.FieldErrors["limit"] = limitErr.Error()
	}
	return 0, 0, vErr
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	return v, nil
}

type createReservationRequest struct {
	RoomID        flexibleID `json:"roomId"`
	StartDatetime string     `json:"startDatetime"`
	EndDatetime   string     `json:"endDatetime"`
}

type updateReservationRequest struct {
	StartDatetime string `json:"startDatetime"`
	EndDatetime   string `json:"endDatetime"`
}

// flexibleID accepts both "7" and 7.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return fmt.Errorf("roomId must be a string or an integer: %w", err)
	}
	*f = flexibleID(strconv.FormatInt(n, 10))
	return nil
}

type reservationDTO struct {
	ID            string   `json:"id"`
	RoomID        string   `json:"roomId"`
	Occupants     []string `json:"occupants"`
	StartDatetime string   `json:"startDatetime"`
	EndDatetime   string   `json:"endDatetime"`
	CreatedAt     string   `json:"createdAt"`
	UpdatedAt     string   `json:"updatedAt"`
}

func toReservationDTO(r application.Reservation) reservationDTO {
	return reservationDTO{
		ID:            r.ID,
		RoomID:        r.RoomID,
		Occupants:     r.Occupants.IDs(),
		StartDatetime: scheduler.FormatInstant(r.Window.Start),
		EndDatetime:   scheduler.FormatInstant(r.Window.End),
		CreatedAt:     scheduler.FormatInstant(r.CreatedAt),
		UpdatedAt:     scheduler.FormatInstant(r.UpdatedAt),
	}
}

type pageResponse[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"hasNext"`
}

func newPageResponse[T any](items []T, page application.ReservationPage) pageResponse[T] {
	if items == nil {
		items = []T{}
	}
	return pageResponse[T]{
		Items:   items,
		Page:    page.Page,
		Limit:   page.Limit,
		Total:   page.Total,
		HasNext: page.HasNext(),
	}
}

type deleteReservationResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}
