package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/room-reservations/internal/application"
)

type roomFeed interface {
	Serve(w http.ResponseWriter, r *http.Request, roomID, actorID string) error
}

type roomLookup interface {
	GetRoom(ctx context.Context, id string) (application.Room, error)
}

// RealtimeHandler streams reservation events of one room over WebSocket.
type RealtimeHandler struct {
	feed      roomFeed
	rooms     roomLookup
	responder responder
	logger    *slog.Logger
}

func NewRealtimeHandler(feed roomFeed, rooms roomLookup, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{feed: feed, rooms: rooms, responder: newResponder(logger), logger: defaultLogger(logger)}
}

func (h *RealtimeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.feed == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	roomID := strings.TrimSpace(chi.URLParam(r, "roomID"))
	if roomID == "" {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errorCode(application.KindInvalidFormat), errInvalidRoomID)
		return
	}
	if h.rooms != nil {
		if _, err := h.rooms.GetRoom(ctx, roomID); err != nil {
			h.responder.handleServiceError(ctx, w, err)
			return
		}
	}

	principal, _ := PrincipalFromContext(ctx)
	logger := handlerLogger(ctx, h.logger, "RealtimeHandler", "Subscribe", "room_id", roomID)
	if err := h.feed.Serve(w, r, roomID, principal.UserID); err != nil {
		// The upgrader has already answered the client.
		logger.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	logger.DebugContext(ctx, "subscriber left")
}
