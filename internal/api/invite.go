package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/channel"
	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/invite"
	"github.com/nocturnechat/nocturne-gateway/internal/member"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// InviteHandler serves invite creation, acceptance, listing and revocation.
type InviteHandler struct {
	invites  *invite.Service
	channels *channel.Service
	guilds   *guild.Service
	members  *member.Service
	hub      *gateway.Hub
	log      zerolog.Logger
}

// NewInviteHandler creates a new invite handler.
func NewInviteHandler(invites *invite.Service, channels *channel.Service, guilds *guild.Service, members *member.Service, hub *gateway.Hub, logger zerolog.Logger) *InviteHandler {
	return &InviteHandler{invites: invites, channels: channels, guilds: guilds, members: members, hub: hub, log: logger}
}

type createInviteBody struct {
	MaxAgeSeconds int  `json:"max_age_seconds"`
	MaxUses       int  `json:"max_uses"`
	Temporary     bool `json:"temporary"`
}

// CreateInvite handles POST /api/channels/:id/invites.
func (h *InviteHandler) CreateInvite(c fiber.Ctx) error {
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

	var body createInviteBody
	if c.Request().Body() != nil && len(c.Body()) > 0 {
		if err := c.Bind().Body(&body); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
		}
	}

	inv := invite.Invite{
		ChannelID: channelID,
		GuildID:   ch.ChannelGuildID(),
		InviterID: userID,
		Remaining: invite.RemainingInfinite,
		Temporary: body.Temporary,
	}
	if body.MaxUses > 0 {
		inv.Remaining = body.MaxUses
	}
	if body.MaxAgeSeconds > 0 {
		expires := time.Now().Add(time.Duration(body.MaxAgeSeconds) * time.Second)
		inv.ExpiresAt = &expires
	}

	created, err := h.invites.Create(c.Context(), inv)
	if err != nil {
		return h.mapInviteError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, created)
}

// ListGuildInvites handles GET /api/guilds/:id/invites.
func (h *InviteHandler) ListGuildInvites(c fiber.Ctx) error {
	if _, err := snowflake.Parse(c.Params("id")); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	return httputil.Fail(c, fiber.StatusNotImplemented, protocol.InternalError, "listing invites by guild is not yet supported")
}

// AcceptInvite handles POST /api/invites/:code.
func (h *InviteHandler) AcceptInvite(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}
	code := c.Params("code")

	inv, err := h.invites.Get(c.Context(), code)
	if err != nil {
		return h.mapInviteError(c, err)
	}

	g, err := h.guilds.GetByID(c.Context(), inv.GuildID)
	if err != nil {
		return h.mapInviteError(c, err)
	}
	if g.IsBanned(userID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.Unauthorized, "you are banned from this guild")
	}

	if _, err := h.invites.Redeem(c.Context(), code); err != nil {
		return h.mapInviteError(c, err)
	}

	updated, err := h.guilds.AddMember(c.Context(), g.ID, userID)
	if err != nil && !errors.Is(err, guild.ErrAlreadyMember) {
		return h.mapInviteError(c, err)
	}
	if _, err := h.members.Add(c.Context(), g.ID, userID); err != nil && !errors.Is(err, member.ErrAlreadyMember) {
		h.log.Error().Err(err).Str("handler", "invite").Msg("add member record failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}

	h.hub.DispatchGuild(g.ID, protocol.EventGuildMemberAdd, fiber.Map{"guild_id": g.ID.String(), "user_id": userID.String()})
	return httputil.Success(c, updated)
}

// DeleteInvite handles DELETE /api/invites/:code.
func (h *InviteHandler) DeleteInvite(c fiber.Ctx) error {
	code := c.Params("code")
	if err := h.invites.Delete(c.Context(), code); err != nil {
		return h.mapInviteError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// mapInviteError converts invite/guild-layer errors to appropriate HTTP responses.
func (h *InviteHandler) mapInviteError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, invite.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownInvite, "invite not found")
	case errors.Is(err, invite.ErrExpired):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidInvite, "invite has expired")
	case errors.Is(err, invite.ErrUsesExhausted):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidInvite, "invite has no uses remaining")
	case errors.Is(err, invite.ErrCodeGenFailed):
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	case errors.Is(err, invite.ErrInvalidRemaining):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, guild.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownGuild, "guild not found")
	case errors.Is(err, guild.ErrBanned):
		return httputil.Fail(c, fiber.StatusForbidden, protocol.Unauthorized, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "invite").Msg("unhandled invite service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}
