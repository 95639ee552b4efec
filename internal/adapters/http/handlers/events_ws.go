package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/evermind-ai/evermind/internal/adapters/http/middleware"
	"github.com/evermind-ai/evermind/internal/adapters/metrics"
	"github.com/evermind-ai/evermind/internal/ports"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// EventsHandler streams memory lifecycle events to websocket clients as
// msgpack binary frames.
type EventsHandler struct {
	upgrader   websocket.Upgrader
	subscriber ports.TurnSubscriber
}

func NewEventsHandler(subscriber ports.TurnSubscriber, allowedOrigins []string) *EventsHandler {
	allowed := make(map[string]bool)
	wildcard := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			wildcard = true
			continue
		}
		allowed[origin] = true
	}

	return &EventsHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Non-browser clients send no Origin; the same list the
				// CORS middleware enforces applies to browsers.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return wildcard || allowed[origin]
			},
		},
		subscriber: subscriber,
	}
}

// Handle handles GET /api/v1/events/ws
func (h *EventsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		respondError(w, r, "auth_error", "User ID not found in context", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket connection: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := h.subscriber.Subscribe(userID)
	defer cancel()

	metrics.WebsocketClients.Inc()
	defer metrics.WebsocketClients.Dec()

	log.Printf("WebSocket event feed connected (user %s)", userID)

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	// The feed is write-only; the read pump exists to notice closes and
	// answer pings.
	go func() {
		defer cancelCtx()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("WebSocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("WebSocket event feed closed (user %s)", userID)
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := msgpack.Marshal(&event)
			if err != nil {
				log.Printf("Failed to encode event for WebSocket broadcast: %v", err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Printf("Failed to write WebSocket event: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
