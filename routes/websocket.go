package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parakkad/fundraiser/services"
	"go.uber.org/zap"
)

const (
	writeWait       = time.Second
	cleanupInterval = 30 * time.Second
	broadcastBuffer = 256
)

// Hub pushes payment events to connected dashboards over WebSocket.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.Mutex
	done       chan struct{}

	stats *services.StatsService
	log   *zap.Logger
}

func NewHub(stats *services.StatsService, log *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // dashboards are served from other origins
			},
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		stats:      stats,
		log:        log,
	}
}

// Run owns the client set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket hub started")

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			h.log.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("WebSocket client connected", zap.Int("clients", clientCount))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug("WebSocket client disconnected", zap.Int("clients", clientCount))

		case message := <-h.broadcast:
			h.writeAll(message)

		case <-cleanupTicker.C:
			h.cleanupInvalidConnections()
		}
	}
}

func (h *Hub) writeAll(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	failCount := 0
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			client.Close()
			delete(h.clients, client)
			failCount++
		}
	}
	if failCount > 0 {
		h.log.Warn("Dropped WebSocket clients during broadcast",
			zap.Int("failed", failCount),
			zap.Int("clients", len(h.clients)),
		)
	}
}

func (h *Hub) cleanupInvalidConnections() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	totalClients := len(h.clients)
	invalidCount := 0
	for client := range h.clients {
		if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			client.Close()
			delete(h.clients, client)
			invalidCount++
		}
	}

	if invalidCount > 0 {
		h.log.Info("Cleaned up invalid WebSocket connections",
			zap.Int("invalid", invalidCount),
			zap.Int("before", totalClients),
			zap.Int("after", len(h.clients)),
		)
	}
}

type hubMessage struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// Broadcast queues event for every connected client. It drops the event
// when the queue is full.
func (h *Hub) Broadcast(event string, data services.PaymentEvent) {
	message, err := json.Marshal(hubMessage{Type: event, Data: data, Timestamp: time.Now().Unix()})
	if err != nil {
		h.log.Error("Failed to marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("Broadcast queue full, dropping event",
			zap.String("event", event),
			zap.String("order_id", data.Payment.OrderID),
		)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// sendInitialData writes the current totals before the client joins the hub,
// so the hub loop stays the only writer afterwards.
func (h *Hub) sendInitialData(ctx context.Context, client *websocket.Conn) error {
	totals, err := h.stats.ComputeTotals(ctx)
	if err != nil {
		h.log.Warn("Failed to load initial stats", zap.Error(err))
		return nil
	}

	message, err := json.Marshal(hubMessage{Type: "initial_data", Data: totals, Timestamp: time.Now().Unix()})
	if err != nil {
		return err
	}
	client.SetWriteDeadline(time.Now().Add(writeWait))
	return client.WriteMessage(websocket.TextMessage, message)
}

// Handler upgrades the request and keeps reading until the client leaves.
func (h *Hub) Handler(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Error upgrading to WebSocket", zap.Error(err))
		return
	}

	if err := h.sendInitialData(c.Request.Context(), conn); err != nil {
		h.log.Debug("Error sending initial data", zap.Error(err))
		conn.Close()
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	// client messages are ignored; reading drives ping/pong and close handling
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("WebSocket read error", zap.Error(err))
			}
			break
		}
	}

	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}
