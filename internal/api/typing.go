package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// TypingHandler serves the typing indicator endpoint. There is no stop counterpart: TYPING_START
// is a fire-and-forget hint clients let expire on their own after a few seconds.
type TypingHandler struct {
	channels *channel.Service
	hub      *gateway.Hub
	log      zerolog.Logger
}

// NewTypingHandler creates a new typing handler.
func NewTypingHandler(channels *channel.Service, hub *gateway.Hub, logger zerolog.Logger) *TypingHandler {
	return &TypingHandler{channels: channels, hub: hub, log: logger}
}

// StartTyping handles POST /api/channels/:id/typing.
func (h *TypingHandler) StartTyping(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	channelID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}

	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	}

	h.hub.TypingStart(ch.ChannelGuildID(), channelID, userID)
	return c.SendStatus(fiber.StatusNoContent)
}
