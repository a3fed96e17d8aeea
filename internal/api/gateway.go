package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
)

// GatewayHandler serves the WebSocket upgrade endpoint for the real-time gateway.
type GatewayHandler struct {
	hub *gateway.Hub
}

// NewGatewayHandler creates a new gateway handler.
func NewGatewayHandler(hub *gateway.Hub) *GatewayHandler {
	return &GatewayHandler{hub: hub}
}

// Upgrade handles GET /gateway. It upgrades the HTTP connection to a WebSocket and hands it to
// the Hub, which negotiates version/encoding and runs the connection's pumps until it closes.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	version := c.QueryInt("v", protocol.GatewayVersion)
	encoding := c.Query("encoding", "json")

	return websocket.New(func(conn *websocket.Conn) {
		h.hub.Serve(conn.Conn, version, encoding)
	})(c)
}
