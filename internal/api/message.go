package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/message"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// MessageHandler serves message CRUD, pin, and bulk-delete endpoints nested under a channel.
type MessageHandler struct {
	messages *message.Service
	channels *channel.Service
	hub      *gateway.Hub
	ids      *snowflake.Generator
	log      zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *message.Service, channels *channel.Service, hub *gateway.Hub, ids *snowflake.Generator, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, channels: channels, hub: hub, ids: ids, log: logger}
}

// ListMessages handles GET /api/channels/:id/messages.
func (h *MessageHandler) ListMessages(c fiber.Ctx) error {
	channelID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}

	var before snowflake.ID
	if raw := c.Query("before"); raw != "" {
		before, err = snowflake.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid before parameter")
		}
	}
	limit := message.ClampLimit(c.QueryInt("limit", message.DefaultLimit))

	msgs, err := h.messages.ListByChannel(c.Context(), channelID, before, limit)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("list messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
	return httputil.Success(c, msgs)
}

type createMessageBody struct {
	Content       string   `json:"content"`
	Nonce         string   `json:"nonce"`
	AttachmentIDs []string `json:"attachment_ids"`
}

// CreateMessage handles POST /api/channels/:id/messages.
func (h *MessageHandler) CreateMessage(c fiber.Ctx) error {
	channelID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	}

	var body createMessageBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	id := h.ids.Next()
	m := message.Message{
		ID:            id,
		ChannelID:     channelID,
		AuthorID:      userID,
		Content:       body.Content,
		AttachmentIDs: body.AttachmentIDs,
		Nonce:         body.Nonce,
	}

	created, err := h.messages.Create(c.Context(), m, len(body.AttachmentIDs) > 0)
	if err != nil {
		return h.mapMessageError(c, err)
	}
	if err := h.channels.SetLastMessage(c.Context(), channelID, id); err != nil {
		h.log.Error().Err(err).Str("handler", "message").Msg("set last message failed")
	}

	h.hub.DispatchGuild(ch.ChannelGuildID(), protocol.EventMessageCreate, created)
	return httputil.SuccessStatus(c, fiber.StatusCreated, created)
}

type editMessageBody struct {
	Content string `json:"content"`
}

// EditMessage handles PATCH /api/channels/:id/messages/:messageID.
func (h *MessageHandler) EditMessage(c fiber.Ctx) error {
	channelID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}
	messageID, err := snowflake.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid message id")
	}
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	}

	var body editMessageBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	updated, err := h.messages.Edit(c.Context(), messageID, userID, body.Content)
	if err != nil {
		return h.mapMessageError(c, err)
	}

	h.hub.DispatchGuild(ch.ChannelGuildID(), protocol.EventMessageUpdate, updated)
	return httputil.Success(c, updated)
}

// DeleteMessage handles DELETE /api/channels/:id/messages/:messageID.
func (h *MessageHandler) DeleteMessage(c fiber.Ctx) error {
	channelID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}
	messageID, err := snowflake.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid message id")
	}

	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	}

	if err := h.messages.Delete(c.Context(), messageID); err != nil {
		return h.mapMessageError(c, err)
	}

	h.hub.DispatchGuild(ch.ChannelGuildID(), protocol.EventMessageDelete, fiber.Map{"id": messageID.String(), "channel_id": channelID.String()})
	return c.SendStatus(fiber.StatusNoContent)
}

type bulkDeleteBody struct {
	IDs []string `json:"ids"`
}

// BulkDeleteMessages handles POST /api/channels/:id/messages/bulk-delete.
func (h *MessageHandler) BulkDeleteMessages(c fiber.Ctx) error {
	channelID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}

	ch, err := h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	}

	var body bulkDeleteBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	ids := make([]snowflake.ID, 0, len(body.IDs))
	for _, raw := range body.IDs {
		id, err := snowflake.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid message id in ids")
		}
		ids = append(ids, id)
	}

	if err := h.messages.BulkDelete(c.Context(), ids); err != nil {
		return h.mapMessageError(c, err)
	}

	h.hub.DispatchGuild(ch.ChannelGuildID(), protocol.EventMessageDeleteBulk, fiber.Map{"ids": body.IDs, "channel_id": channelID.String()})
	return c.SendStatus(fiber.StatusNoContent)
}

// PinMessage handles PUT /api/channels/:id/messages/:messageID/pin.
func (h *MessageHandler) PinMessage(c fiber.Ctx) error {
	channelID, messageID, ch, err := h.parsePinParams(c)
	if err != nil {
		return err
	}

	if pinErr := h.channels.Pin(c.Context(), channelID, messageID); pinErr != nil {
		return h.mapChannelPinError(c, pinErr)
	}
	updated, pinnedErr := h.messages.SetPinned(c.Context(), messageID, true)
	if pinnedErr != nil {
		return h.mapMessageError(c, pinnedErr)
	}

	h.hub.DispatchGuild(ch.ChannelGuildID(), protocol.EventChannelPinsUpdate, fiber.Map{"channel_id": channelID.String()})
	return httputil.Success(c, updated)
}

// UnpinMessage handles DELETE /api/channels/:id/messages/:messageID/pin.
func (h *MessageHandler) UnpinMessage(c fiber.Ctx) error {
	channelID, messageID, ch, err := h.parsePinParams(c)
	if err != nil {
		return err
	}

	if unpinErr := h.channels.Unpin(c.Context(), channelID, messageID); unpinErr != nil {
		return h.mapChannelPinError(c, unpinErr)
	}
	updated, pinnedErr := h.messages.SetPinned(c.Context(), messageID, false)
	if pinnedErr != nil {
		return h.mapMessageError(c, pinnedErr)
	}

	h.hub.DispatchGuild(ch.ChannelGuildID(), protocol.EventChannelPinsUpdate, fiber.Map{"channel_id": channelID.String()})
	return httputil.Success(c, updated)
}

func (h *MessageHandler) parsePinParams(c fiber.Ctx) (channelID, messageID snowflake.ID, ch channel.Channel, err error) {
	channelID, err = snowflake.Parse(c.Params("id"))
	if err != nil {
		return 0, 0, nil, httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid channel id")
	}
	messageID, err = snowflake.Parse(c.Params("messageID"))
	if err != nil {
		return 0, 0, nil, httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid message id")
	}
	ch, err = h.channels.GetByID(c.Context(), channelID)
	if err != nil {
		return 0, 0, nil, httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	}
	return channelID, messageID, ch, nil
}

// mapChannelPinError converts channel-layer pin errors to appropriate HTTP responses.
func (h *MessageHandler) mapChannelPinError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, channel.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownChannel, "channel not found")
	case errors.Is(err, channel.ErrPinLimitReached):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.TooManyPins, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "message").Msg("unhandled channel pin error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}

// mapMessageError converts message-layer errors to appropriate HTTP responses.
func (h *MessageHandler) mapMessageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, message.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownMessage, "message not found")
	case errors.Is(err, message.ErrContentTooLong), errors.Is(err, message.ErrEmptyContent):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.EmptyMessage, err.Error())
	case errors.Is(err, message.ErrNotAuthor):
		return httputil.Fail(c, fiber.StatusForbidden, protocol.CannotEditMessage, err.Error())
	case errors.Is(err, message.ErrDuplicateNonce):
		return httputil.Fail(c, fiber.StatusConflict, protocol.DuplicateNonce, err.Error())
	case errors.Is(err, message.ErrTooOldForBulk):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.MessageTooOld, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "message").Msg("unhandled message service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}
