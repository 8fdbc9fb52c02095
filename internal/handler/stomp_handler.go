package handler

import (
	"docchat/internal/constant"
	"docchat/internal/pkg/logger"
	internalWS "docchat/internal/websocket"
	"docchat/pkg/stompws"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// StompHandler upgrades browser-style STOMP connections and hands them to the hub.
type StompHandler struct {
	hub    *internalWS.Hub
	logger logger.ILogger
}

func NewStompHandler(hub *internalWS.Hub, log logger.ILogger) *StompHandler {
	return &StompHandler{hub: hub, logger: log}
}

// Upgrade rejects plain HTTP requests to the WebSocket path.
func (h *StompHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// ServeWs runs one STOMP session for the lifetime of the connection.
func (h *StompHandler) ServeWs() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		remote := c.RemoteAddr().String()
		h.logger.Info("StompHandler", "Starting WebSocket session", map[string]interface{}{"remote": remote})
		internalWS.ServeWs(h.hub, c)
		h.logger.Info("StompHandler", "WebSocket session ended", map[string]interface{}{"remote": remote})
	}, websocket.Config{
		Subprotocols: stompws.Subprotocols,
	})
}

func (h *StompHandler) RegisterRoutes(router fiber.Router) {
	router.Get(constant.ChatWebSocketPath, h.Upgrade, h.ServeWs())
}
