// Package api holds the HTTP handlers: the WebSocket upgrade endpoint and the health
// check.
package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/driftchat/drift-server/internal/hub"
)

// GatewayHandler serves the WebSocket upgrade endpoint.
type GatewayHandler struct {
	hub *hub.Hub
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(h *hub.Hub) *GatewayHandler {
	return &GatewayHandler{hub: h}
}

// Upgrade handles GET / and GET /ws. It upgrades the HTTP connection to a WebSocket
// and hands it to the Hub, along with any token supplied in the query string.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, token)
	})(c)
}
