package websocket

import (
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Upgrade rejects plain HTTP requests on the websocket route
func Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return utils.ErrorResponse(c, fiber.StatusUpgradeRequired, "WEBSOCKET_REQUIRED", "WebSocket upgrade required", nil)
}

// Handler returns the connection handler; ?run_id= limits progress to one run
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		client := NewClient(conn, h, conn.Query("run_id"))
		if !h.RegisterClient(client) {
			conn.Close()
			return
		}

		h.logger.Debug("New WebSocket connection established", map[string]interface{}{
			"client_id":   client.ID,
			"run_filter":  client.RunID,
			"remote_addr": conn.RemoteAddr().String(),
		})

		go client.WritePump()
		client.ReadPump()
	})
}

// Stats returns statistics about WebSocket connections
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"connected_clients": h.GetConnectedClients(),
		"client_ids":        h.GetClientIDs(),
	}
}
