package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/room-reservations/internal/application"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Hub broadcasts reservation events to WebSocket clients subscribed to a
// room. It is a Sink.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*subscriber]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type subscriber struct {
	conn    *websocket.Conn
	send    chan SlotMessage
	roomID  string
	actorID string
}

// NewHub constructs an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms: make(map[string]map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With("component", "notify.Hub"),
	}
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// Deliver implements Sink. Slow subscribers miss the event rather than
// stall the others.
func (h *Hub) Deliver(_ context.Context, event application.Event) error {
	message := NewSlotMessage(event)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[event.RoomID] {
		select {
		case sub.send <- message:
		default:
			h.logger.Warn("subscriber buffer full, event skipped", "room_id", sub.roomID, "actor_id", sub.actorID)
		}
	}
	return nil
}

// Serve upgrades the request and streams events of roomID until the client
// disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, roomID, actorID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	sub := &subscriber{
		conn:    conn,
		send:    make(chan SlotMessage, sendBuffer),
		roomID:  roomID,
		actorID: actorID,
	}
	h.add(sub)
	h.logger.Info("subscriber joined", "room_id", roomID, "actor_id", actorID)

	go sub.writePump()
	sub.readPump(h)
	return nil
}

// Subscribers reports how many clients watch roomID.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.rooms {
		for sub := range subs {
			close(sub.send)
		}
	}
	h.rooms = make(map[string]map[*subscriber]struct{})
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[sub.roomID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.rooms[sub.roomID] = subs
	}
	subs[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[sub.roomID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.rooms, sub.roomID)
	}
	h.logger.Info("subscriber left", "room_id", sub.roomID, "actor_id", sub.actorID)
}

func (s *subscriber) readPump(h *Hub) {
	defer func() {
		h.remove(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		// Clients only keep the connection alive; payloads are ignored.
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "room_id", s.roomID, "error", err)
			}
			return
		}
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
