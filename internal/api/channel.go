package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// ChannelHandler serves channel CRUD endpoints, nested under a guild.
type ChannelHandler struct {
	channels *channel.Service
	guilds   *guild.Service
	hub      *gateway.Hub
	ids      *snowflake.Generator
	log      zerolog.Logger
}

// NewChannelHandler creates a new channel handler.
func NewChannelHandler(channels *channel.Service, guilds *guild.Service, hub *gateway.Hub, ids *snowflake.Generator, logger zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, guilds: guilds, hub: hub, ids: ids, log: logger}
}

type createChannelBody struct {
	Name      string       `json:"name"`
	Type      channel.Type `json:"type"`
	Topic     string       `json:"topic"`
	Bitrate   int          `json:"bitrate"`
	UserLimit int          `json:"user_limit"`
}

// Create handles POST /api/guilds/:id/channels. Channel management is owner-only, matching the
// teacher's guild-creation flow where the owner alone shapes the guild's structure.
func (h *ChannelHandler) Create(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	if !h.requireOwner(c, guildID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "only the guild owner may do this")
	}

	var body createChannelBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}
	if err := channel.ValidateType(body.Type); err != nil {
		return h.mapChannelError(c, err)
	}

	id := h.ids.Next()
	var ch channel.Channel
	switch body.Type {
	case channel.TypeText:
		text := channel.NewText(id, guildID, body.Name)
		text.Topic = body.Topic
		created, err := h.channels.CreateText(c.Context(), text)
		if err != nil {
			return h.mapChannelError(c, err)
		}
		ch = *created
	case channel.TypeVoice:
		voice := channel.NewVoice(id, guildID, body.Name)
		if body.Bitrate > 0 {
			voice.Bitrate = body.Bitrate
		}
		voice.UserLimit = body.UserLimit
		created, err := h.channels.CreateVoice(c.Context(), voice)
		if err != nil {
			return h.mapChannelError(c, err)
		}
		ch = *created
	}

	if _, err := h.guilds.AddChannel(c.Context(), guildID, id); err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("add channel to guild failed")
	}

	h.hub.DispatchGuild(guildID, protocol.EventChannelCreate, ch)
	return httputil.SuccessStatus(c, fiber.StatusCreated, ch)
}

type updateChannelBody struct {
	Name      *string `json:"name"`
	Topic     *string `json:"topic"`
	Position  *int    `json:"position"`
	Bitrate   *int    `json:"bitrate"`
	UserLimit *int    `json:"user_limit"`
}

// Update handles PATCH /api/guilds/:id/channels/:channelID.
func (h *ChannelHandler) Update(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	channelID, err := snowflake.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}
	if !h.requireOwner(c, guildID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "only the guild owner may do this")
	}

	var body updateChannelBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	ch, err := h.channels.Update(c.Context(), channelID, body.Name, body.Topic, body.Position, body.Bitrate, body.UserLimit)
	if err != nil {
		return h.mapChannelError(c, err)
	}

	h.hub.DispatchGuild(guildID, protocol.EventChannelUpdate, ch)
	return httputil.Success(c, ch)
}

// Delete handles DELETE /api/guilds/:id/channels/:channelID.
func (h *ChannelHandler) Delete(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	channelID, err := snowflake.Parse(c.Params("channelID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}
	if !h.requireOwner(c, guildID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "only the guild owner may do this")
	}

	if err := h.channels.Delete(c.Context(), channelID); err != nil {
		return h.mapChannelError(c, err)
	}
	if _, err := h.guilds.RemoveChannel(c.Context(), guildID, channelID); err != nil {
		h.log.Error().Err(err).Str("handler", "channel").Msg("remove channel from guild failed")
	}

	h.hub.DispatchGuild(guildID, protocol.EventChannelDelete, fiber.Map{"id": channelID.String(), "guild_id": guildID.String()})
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChannelHandler) requireOwner(c fiber.Ctx, guildID snowflake.ID) bool {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return false
	}
	g, err := h.guilds.GetByID(c.Context(), guildID)
	if err != nil {
		return false
	}
	return g.IsOwner(userID)
}

// mapChannelError converts channel-layer errors to appropriate HTTP responses.
func (h *ChannelHandler) mapChannelError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	case errors.Is(err, channel.ErrNameLength),
		errors.Is(err, channel.ErrInvalidType),
		errors.Is(err, channel.ErrTopicLength),
		errors.Is(err, channel.ErrInvalidPosition),
		errors.Is(err, channel.ErrInvalidBitrate),
		errors.Is(err, channel.ErrInvalidUserLimit):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, channel.ErrWrongVariant):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, channel.ErrPinLimitReached):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.TooManyPins, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "channel").Msg("unhandled channel service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}
