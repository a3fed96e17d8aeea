package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/member"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// GuildHandler serves guild CRUD and ban endpoints.
type GuildHandler struct {
	guilds  *guild.Service
	members *member.Service
	authz   authorizer
	hub     *gateway.Hub
	ids     *snowflake.Generator
	log     zerolog.Logger
}

// NewGuildHandler creates a new guild handler.
func NewGuildHandler(guilds *guild.Service, members *member.Service, authz authorizer, hub *gateway.Hub, ids *snowflake.Generator, logger zerolog.Logger) *GuildHandler {
	return &GuildHandler{guilds: guilds, members: members, authz: authz, hub: hub, ids: ids, log: logger}
}

type createGuildBody struct {
	Name string `json:"name"`
}

// Create handles POST /api/guilds.
func (h *GuildHandler) Create(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	var body createGuildBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	g, err := h.guilds.Create(c.Context(), h.ids.Next(), userID, body.Name)
	if err != nil {
		return h.mapGuildError(c, err)
	}
	if _, err := h.members.Add(c.Context(), g.ID, userID); err != nil {
		h.log.Error().Err(err).Str("handler", "guild").Msg("add owner as member failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, g)
}

type updateGuildBody struct {
	Name       *string `json:"name"`
	Region     *string `json:"region"`
	IconHash   *string `json:"icon_hash"`
	SplashHash *string `json:"splash_hash"`
}

// Update handles PATCH /api/guilds/:id. Only the guild's owner may update it.
func (h *GuildHandler) Update(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	existing, err := h.guilds.GetByID(c.Context(), guildID)
	if err != nil {
		return h.mapGuildError(c, err)
	}
	if !existing.IsOwner(userID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "only the guild owner may do this")
	}

	var body updateGuildBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	g, err := h.guilds.Update(c.Context(), guildID, body.Name, body.Region, body.IconHash, body.SplashHash)
	if err != nil {
		return h.mapGuildError(c, err)
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildUpdate, g)
	return httputil.Success(c, g)
}

// Delete handles DELETE /api/guilds/:id. Only the guild's owner may delete it.
func (h *GuildHandler) Delete(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	existing, err := h.guilds.GetByID(c.Context(), guildID)
	if err != nil {
		return h.mapGuildError(c, err)
	}
	if !existing.IsOwner(userID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "only the guild owner may do this")
	}

	if err := h.guilds.Delete(c.Context(), guildID); err != nil {
		return h.mapGuildError(c, err)
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildDelete, fiber.Map{"id": guildID.String()})
	return c.SendStatus(fiber.StatusNoContent)
}

type banBody struct {
	DeleteMessageDays int `json:"delete_message_days"`
}

// Ban handles PUT /api/guilds/:id/bans/:user_id.
func (h *GuildHandler) Ban(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	targetID, err := snowflake.Parse(c.Params("user_id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid user id")
	}
	callerID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	var body banBody
	if c.Request().Body() != nil && len(c.Body()) > 0 {
		if err := c.Bind().Body(&body); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
		}
	}
	if body.DeleteMessageDays < 0 || body.DeleteMessageDays > 7 {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "delete_message_days must be between 0 and 7")
	}

	if !h.canModerate(c, guildID, callerID, protocol.PermissionBanMembers) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing ban_members permission")
	}

	g, err := h.guilds.Ban(c.Context(), guildID, targetID)
	if err != nil {
		return h.mapGuildError(c, err)
	}
	_ = h.members.Remove(c.Context(), guildID, targetID)

	h.hub.DispatchUser(targetID, protocol.EventGuildDelete, fiber.Map{"id": guildID.String()})
	h.hub.DispatchGuild(guildID, protocol.EventGuildBanAdd, fiber.Map{"guild_id": guildID.String(), "user_id": targetID.String()})
	return httputil.Success(c, g)
}

// Unban handles DELETE /api/guilds/:id/bans/:user_id.
func (h *GuildHandler) Unban(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	targetID, err := snowflake.Parse(c.Params("user_id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid user id")
	}
	callerID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	if !h.canModerate(c, guildID, callerID, protocol.PermissionBanMembers) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing ban_members permission")
	}

	g, err := h.guilds.Unban(c.Context(), guildID, targetID)
	if err != nil {
		return h.mapGuildError(c, err)
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildBanRemove, fiber.Map{"guild_id": guildID.String(), "user_id": targetID.String()})
	return httputil.Success(c, g)
}

// canModerate reports whether callerID is the guild owner or holds perm. Used by the ban and
// unban endpoints, which the owner can always bypass.
func (h *GuildHandler) canModerate(c fiber.Ctx, guildID, callerID snowflake.ID, perm protocol.Permission) bool {
	g, m, err := h.authz.requireMember(c.Context(), guildID, callerID)
	if err != nil {
		return false
	}
	if g.IsOwner(callerID) {
		return true
	}
	perms, err := h.authz.permissions(c.Context(), guildID, m)
	if err != nil {
		return false
	}
	return perms.Has(perm)
}

// mapGuildError converts guild-layer errors to appropriate HTTP responses.
func (h *GuildHandler) mapGuildError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, guild.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownGuild, "guild not found")
	case errors.Is(err, guild.ErrNameLength):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, guild.ErrNotOwner):
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, err.Error())
	case errors.Is(err, guild.ErrAlreadyBanned):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, guild.ErrAlreadyMember):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, guild.ErrNotMember), errors.Is(err, member.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownMember, "member not found")
	default:
		h.log.Error().Err(err).Str("handler", "guild").Msg("unhandled guild service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}
