package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/room-reservations/internal/application"
	"github.com/example/room-reservations/internal/scheduler"
)

var (
	errBadRequestBody        = errors.New("無効なリクエスト形式です。")
	errInvalidReservationID  = errors.New("無効な予約 ID です。")
	errInvalidRoomID         = errors.New("無効な会議室 ID です。")
	errInvalidQuery          = errors.New("検索条件の形式が正しくありません。")
	errMissingToken          = errors.New("認証トークンを指定してください。")
	errInvalidToken          = errors.New("認証トークンが無効です。再度ログインしてください。")
	errTooManyRequests       = errors.New("リクエストが多すぎます。しばらくしてから再試行してください。")
	errMissingPrincipalScope = errors.New("認証が必要です。")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	return responder{logger: defaultLogger(logger)}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// writeError answers with a plain status derived message. It is used for
// failures detected before the service is reached.
func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, code string, err error) {
	message := statusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).WarnContext(ctx, "request rejected", "status", status, "error", err)
	}
	r.writeJSON(ctx, w, status, errorResponse{ErrorCode: code, Message: message})
}

// handleServiceError maps an application error to its status and body.
func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := application.KindOf(err)
	status := statusForKind(kind)
	body := errorResponse{
		ErrorCode: errorCode(kind),
		Message:   kindMessage(kind),
	}

	var vErr *application.ValidationError
	if errors.As(err, &vErr) {
		if len(vErr.FieldErrors) > 0 {
			body.Errors = vErr.FieldErrors
		}
		if vErr.Duration != nil {
			body.Details = &durationDetails{
				Actual: vErr.Duration.Actual.String(),
				Min:    vErr.Duration.Min.String(),
				Max:    vErr.Duration.Max.String(),
			}
		}
	}
	var cErr *application.ConflictError
	if errors.As(err, &cErr) {
		body.Conflicts = toConflictDTOs(cErr.Conflicts)
	}

	logger := r.loggerFor(ctx)
	switch {
	case kind == application.KindCanceled:
		logger.InfoContext(ctx, "request canceled by client", "status", status)
	case status >= http.StatusInternalServerError:
		logger.ErrorContext(ctx, "request failed", "status", status, "error_kind", string(kind), "error", err)
	default:
		logger.InfoContext(ctx, "request refused", "status", status, "error_kind", string(kind))
	}
	if kind == application.KindStoreUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if kind == application.KindUnexpected {
		body.ErrorCode = "INTERNAL"
	}
	r.writeJSON(ctx, w, status, body)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

// errorCode is the machine readable form of kind used in every error body.
func errorCode(kind application.Kind) string {
	return strings.ToUpper(string(kind))
}

// statusClientClosedRequest is the nginx convention for a request the client
// abandoned. Nobody reads the body, but access logs and metrics keep it apart
// from server faults.
const statusClientClosedRequest = 499

func statusForKind(kind application.Kind) int {
	switch kind {
	case application.KindInvalidFormat, application.KindInvalidRange,
		application.KindDurationViolation, application.KindOutsideOpeningHours:
		return http.StatusBadRequest
	case application.KindSlotTaken, application.KindRoomUnavailable, application.KindIdempotencyMismatch:
		return http.StatusConflict
	case application.KindNotFound:
		return http.StatusNotFound
	case application.KindForbidden:
		return http.StatusForbidden
	case application.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case application.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func kindMessage(kind application.Kind) string {
	switch kind {
	case application.KindInvalidFormat:
		return "日時の形式が正しくありません。"
	case application.KindInvalidRange:
		return "終了日時は開始日時より後である必要があります。"
	case application.KindDurationViolation:
		return "予約時間が許可された範囲外です。"
	case application.KindOutsideOpeningHours:
		return "営業時間外の予約はできません。"
	case application.KindSlotTaken:
		return "指定された時間帯は既に予約されています。"
	case application.KindNotFound:
		return "指定されたリソースが見つかりません。"
	case application.KindForbidden:
		return "この操作を実行する権限がありません。"
	case application.KindStoreUnavailable:
		return "現在予約を処理できません。しばらくしてから再試行してください。"
	case application.KindRoomUnavailable:
		return "指定された会議室は現在予約できません。"
	case application.KindIdempotencyMismatch:
		return "Idempotency-Key は別のリクエストで使用済みです。"
	case application.KindCanceled:
		return "リクエストは中断されました。"
	default:
		return statusMessage(http.StatusInternalServerError)
	}
}

func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "リクエスト内容が正しくありません。"
	case http.StatusUnauthorized:
		return "認証が必要です。"
	case http.StatusForbidden:
		return "この操作を実行する権限がありません。"
	case http.StatusNotFound:
		return "指定されたリソースが見つかりません。"
	case http.StatusMethodNotAllowed:
		return "このメソッドは許可されていません。"
	case http.StatusConflict:
		return "要求はリソースの現在の状態と競合しています。"
	case http.StatusTooManyRequests:
		return errTooManyRequests.Error()
	default:
		return "サーバー内部でエラーが発生しました。"
	}
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Details   *durationDetails  `json:"details,omitempty"`
	Conflicts []conflictDTO     `json:"conflicts,omitempty"`
}

type durationDetails struct {
	Actual string `json:"actual"`
	Min    string `json:"min"`
	Max    string `json:"max"`
}

// conflictDTO omits occupants; other actors' bookings only reveal the slot.
type conflictDTO struct {
	ID            string `json:"id"`
	RoomID        string `json:"roomId"`
	StartDatetime string `json:"startDatetime"`
	EndDatetime   string `json:"endDatetime"`
}

func toConflictDTOs(conflicts []application.Reservation) []conflictDTO {
	if len(conflicts) == 0 {
		return nil
	}
	out := make([]conflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, conflictDTO{
			ID:            c.ID,
			RoomID:        c.RoomID,
			StartDatetime: scheduler.FormatInstant(c.Window.Start),
			EndDatetime:   scheduler.FormatInstant(c.Window.End),
		})
	}
	return out
}
