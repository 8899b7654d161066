package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
)

// Hub fans run progress out to connected dashboards
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan models.WSMessage
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage
	done       chan struct{}
	logger     *utils.Logger
}

type directMessage struct {
	client  *Client
	message models.WSMessage
}

// NewHub creates a new WebSocket hub
func NewHub(logger *utils.Logger) *Hub {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan models.WSMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage, 64),
		done:       make(chan struct{}),
		logger:     logger.WithSource("websocket"),
	}
}

// Run serves registrations and broadcasts until ctx is done, then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client connected", map[string]interface{}{
				"client_id":     client.ID,
				"run_filter":    client.RunID,
				"total_clients": total,
			})

			h.deliver(client, models.WSMessage{
				Type:      models.WSConnect,
				Data:      map[string]interface{}{"status": "connected", "client_id": client.ID},
				Timestamp: time.Now(),
				ClientID:  client.ID,
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client disconnected", map[string]interface{}{
				"client_id":     client.ID,
				"total_clients": total,
			})

		case d := <-h.direct:
			h.mu.RLock()
			_, ok := h.clients[d.client]
			h.mu.RUnlock()
			if ok {
				h.deliver(d.client, d.message)
			}

		case message := <-h.broadcast:
			runID := progressRunID(message.Data)
			h.mu.RLock()
			targets := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if client.wants(runID) {
					targets = append(targets, client)
				}
			}
			h.mu.RUnlock()

			h.logger.Debug("Broadcasting WebSocket message", map[string]interface{}{
				"type":       message.Type,
				"run_id":     runID,
				"recipients": len(targets),
			})
			for _, client := range targets {
				h.deliver(client, message)
			}
		}
	}
}

// deliver queues a message for one client and drops the client when its queue is full.
// It is only called from the Run goroutine.
func (h *Hub) deliver(client *Client, message models.WSMessage) {
	select {
	case client.send <- message:
	default:
		h.mu.Lock()
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
		h.mu.Unlock()
		h.logger.Warn("Removed unresponsive WebSocket client", map[string]interface{}{"client_id": client.ID})
	}
}

// BroadcastToAll sends a message to all connected clients
func (h *Hub) BroadcastToAll(msgType string, data interface{}) {
	message := models.WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
		ClientID:  "server",
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("Broadcast channel is full, message dropped", map[string]interface{}{"type": msgType})
	}
}

// SendToClient queues a message for one client
func (h *Hub) SendToClient(client *Client, msgType string, data interface{}) {
	message := models.WSMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
		ClientID:  client.ID,
	}
	select {
	case h.direct <- directMessage{client: client, message: message}:
	default:
		h.logger.Warn("Direct channel is full, message dropped", map[string]interface{}{
			"type":      msgType,
			"client_id": client.ID,
		})
	}
}

// GetConnectedClients returns the number of connected clients
func (h *Hub) GetConnectedClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetClientIDs returns a list of all connected client IDs
func (h *Hub) GetClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.clients))
	for client := range h.clients {
		ids = append(ids, client.ID)
	}
	return ids
}

// RegisterClient registers a new client with the hub; it reports false once the hub has stopped
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient unregisters a client from the hub
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// progressRunID extracts the run id of progress payloads, "" for anything else
func progressRunID(data interface{}) string {
	switch p := data.(type) {
	case models.RunProgress:
		return p.RunID
	case *models.RunProgress:
		if p != nil {
			return p.RunID
		}
	}
	return ""
}
