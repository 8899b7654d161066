package websocket

import (
	"encoding/json"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

// Client is one dashboard connection, optionally following a single run
type Client struct {
	ID    string
	RunID string
	conn  *websocket.Conn
	send  chan models.WSMessage
	hub   *Hub
}

// NewClient creates a new WebSocket client; an empty runID follows every run
func NewClient(conn *websocket.Conn, hub *Hub, runID string) *Client {
	return &Client{
		ID:    uuid.New().String(),
		RunID: runID,
		conn:  conn,
		send:  make(chan models.WSMessage, 256),
		hub:   hub,
	}
}

// wants reports whether a message about runID should reach this client
func (c *Client) wants(runID string) bool {
	return c.RunID == "" || runID == "" || c.RunID == runID
}

// ReadPump reads client messages until the connection closes
func (c *Client) ReadPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("WebSocket read error", err, map[string]interface{}{"client_id": c.ID})
			}
			return
		}

		var message models.WSMessage
		if err := json.Unmarshal(raw, &message); err != nil {
			c.hub.logger.Warn("Failed to parse WebSocket message", map[string]interface{}{
				"client_id": c.ID,
				"error":     err.Error(),
			})
			continue
		}
		if !c.handleMessage(message) {
			return
		}
	}
}

// WritePump writes queued messages and pings until the hub closes the queue
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.logger.Warn("Failed to write WebSocket message", map[string]interface{}{
					"client_id": c.ID,
					"error":     err.Error(),
				})
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage reacts to a client message; false ends the connection
func (c *Client) handleMessage(message models.WSMessage) bool {
	switch message.Type {
	case models.WSHeartbeat:
		c.hub.SendToClient(c, models.WSHeartbeat, map[string]interface{}{"status": "pong"})
	case models.WSDisconnect:
		c.hub.logger.Info("WebSocket client requested disconnect", map[string]interface{}{"client_id": c.ID})
		return false
	default:
		c.hub.logger.Debug("Ignoring WebSocket message", map[string]interface{}{
			"client_id":    c.ID,
			"message_type": message.Type,
		})
	}
	return true
}
