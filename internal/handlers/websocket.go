// -----------------------------------------------------------------------
// Last Modified: Monday, 19th October 2026 4:52:10 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pagesponge/internal/interfaces"
	"github.com/ternarybob/pagesponge/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the envelope of every websocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Message types
const (
	WSTypeHello    = "hello"
	WSTypeQueue    = "queue"
	WSTypeActivity = "activity"
)

// HelloPayload lets clients detect a server restart
type HelloPayload struct {
	ServerInstanceID string `json:"serverInstanceId"`
}

// ActivityPayload reports whether any runner is active
type ActivityPayload struct {
	Busy bool `json:"busy"`
}

// WebSocketHandler streams queue snapshots and activity changes to observers.
// Observers only read; all writes go through the queue controller.
type WebSocketHandler struct {
	logger           arbor.ILogger
	controller       QueueController
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to queue and activity events
func NewWebSocketHandler(eventService interfaces.EventService, controller QueueController, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		controller:       controller,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized with server instance ID")

	if eventService != nil {
		h.subscribe(eventService)
	}

	return h
}

func (h *WebSocketHandler) subscribe(eventService interfaces.EventService) {
	eventService.Subscribe(interfaces.EventQueueChanged, func(ctx context.Context, event interfaces.Event) error {
		jobs, ok := event.Payload.([]models.JobRecord)
		if !ok {
			h.logger.Warn().Str("event_type", string(event.Type)).Msg("Unexpected queue event payload")
			return nil
		}
		h.broadcast(WSMessage{Type: WSTypeQueue, Payload: h.queuePayload(jobs)})
		return nil
	})

	eventService.Subscribe(interfaces.EventActivityChanged, func(ctx context.Context, event interfaces.Event) error {
		busy, ok := event.Payload.(bool)
		if !ok {
			h.logger.Warn().Str("event_type", string(event.Type)).Msg("Unexpected activity event payload")
			return nil
		}
		h.broadcast(WSMessage{Type: WSTypeActivity, Payload: ActivityPayload{Busy: busy}})
		return nil
	})
}

func (h *WebSocketHandler) queuePayload(jobs []models.JobRecord) QueueResponse {
	active := 0
	if h.controller != nil {
		active = h.controller.ActiveCount()
	}
	if jobs == nil {
		jobs = []models.JobRecord{}
	}
	return QueueResponse{Jobs: jobs, Active: active}
}

// HandleWebSocket handles GET /ws. A new client gets a hello, the current
// queue and the current activity, then every change as it is written.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	mutex := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = mutex
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", clientCount).Msg("WebSocket client connected")

	h.sendInitialState(r.Context(), conn, mutex)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		clientCount := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Int("remaining", clientCount).Msg("WebSocket client disconnected")
	}()

	// Read messages from client (keep connection alive)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

func (h *WebSocketHandler) sendInitialState(ctx context.Context, conn *websocket.Conn, mutex *sync.Mutex) {
	h.send(conn, mutex, WSMessage{Type: WSTypeHello, Payload: HelloPayload{ServerInstanceID: h.serverInstanceID}})

	if h.controller == nil {
		return
	}

	jobs, err := h.controller.Snapshot(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read queue for new WebSocket client")
		return
	}
	h.send(conn, mutex, WSMessage{Type: WSTypeQueue, Payload: h.queuePayload(jobs)})
	h.send(conn, mutex, WSMessage{Type: WSTypeActivity, Payload: ActivityPayload{Busy: h.controller.ActiveCount() > 0}})
}

func (h *WebSocketHandler) send(conn *websocket.Conn, mutex *sync.Mutex, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	mutex.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	mutex.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
	}
}

// broadcast sends msg to all connected clients
func (h *WebSocketHandler) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
