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
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// MemberHandler serves member endpoints nested under a guild: nickname/voice flag updates,
// role assignment, and kicks.
type MemberHandler struct {
	members *member.Service
	guilds  *guild.Service
	roles   *role.Service
	authz   authorizer
	hub     *gateway.Hub
	log     zerolog.Logger
}

// NewMemberHandler creates a new member handler.
func NewMemberHandler(members *member.Service, guilds *guild.Service, roles *role.Service, authz authorizer, hub *gateway.Hub, logger zerolog.Logger) *MemberHandler {
	return &MemberHandler{members: members, guilds: guilds, roles: roles, authz: authz, hub: hub, log: logger}
}

// ListMembers handles GET /api/guilds/:id/members.
func (h *MemberHandler) ListMembers(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}

	members, err := h.members.ListByGuild(c.Context(), guildID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "member").Msg("list members failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
	return httputil.Success(c, members)
}

type updateMemberBody struct {
	Nickname *string `json:"nickname"`
	Deaf     *bool   `json:"deaf"`
	Mute     *bool   `json:"mute"`
}

// UpdateMember handles PATCH /api/guilds/:id/members/:user_id.
func (h *MemberHandler) UpdateMember(c fiber.Ctx) error {
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

	var body updateMemberBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	// Members may rename themselves without any special permission; anything else, including
	// renaming someone else or touching voice flags, requires manage_roles.
	if targetID != callerID || body.Deaf != nil || body.Mute != nil {
		if !h.canManage(c, guildID, callerID) {
			return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing manage_roles permission")
		}
	}

	var updated *member.Member
	if body.Nickname != nil {
		updated, err = h.members.SetNickname(c.Context(), guildID, targetID, body.Nickname)
		if err != nil {
			return h.mapMemberError(c, err)
		}
	}
	if body.Deaf != nil || body.Mute != nil {
		current, getErr := h.members.Get(c.Context(), guildID, targetID)
		if getErr != nil {
			return h.mapMemberError(c, getErr)
		}
		deaf, mute := current.Deaf, current.Mute
		if body.Deaf != nil {
			deaf = *body.Deaf
		}
		if body.Mute != nil {
			mute = *body.Mute
		}
		updated, err = h.members.SetVoiceFlags(c.Context(), guildID, targetID, deaf, mute)
		if err != nil {
			return h.mapMemberError(c, err)
		}
	}
	if updated == nil {
		updated, err = h.members.Get(c.Context(), guildID, targetID)
		if err != nil {
			return h.mapMemberError(c, err)
		}
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildMemberUpdate, updated)
	return httputil.Success(c, updated)
}

// KickMember handles DELETE /api/guilds/:id/members/:user_id.
func (h *MemberHandler) KickMember(c fiber.Ctx) error {
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

	if !h.canModerate(c, guildID, callerID, protocol.PermissionKickMembers) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing kick_members permission")
	}

	g, err := h.guilds.GetByID(c.Context(), guildID)
	if err != nil {
		return h.mapMemberError(c, err)
	}
	if g.IsOwner(targetID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "the guild owner cannot be kicked")
	}

	if err := h.members.Remove(c.Context(), guildID, targetID); err != nil {
		return h.mapMemberError(c, err)
	}

	h.hub.DispatchUser(targetID, protocol.EventGuildDelete, fiber.Map{"id": guildID.String()})
	h.hub.DispatchGuild(guildID, protocol.EventGuildMemberRemove, fiber.Map{"guild_id": guildID.String(), "user_id": targetID.String()})
	return c.SendStatus(fiber.StatusNoContent)
}

// AssignRole handles PUT /api/guilds/:id/members/:user_id/roles/:roleID.
func (h *MemberHandler) AssignRole(c fiber.Ctx) error {
	guildID, targetID, roleID, callerID, err := h.parseRoleParams(c)
	if err != nil {
		return err
	}
	if !h.canManage(c, guildID, callerID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing manage_roles permission")
	}

	updated, assignErr := h.members.AssignRole(c.Context(), guildID, targetID, roleID)
	if assignErr != nil {
		return h.mapMemberError(c, assignErr)
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildMemberUpdate, updated)
	return httputil.Success(c, updated)
}

// RemoveRole handles DELETE /api/guilds/:id/members/:user_id/roles/:roleID.
func (h *MemberHandler) RemoveRole(c fiber.Ctx) error {
	guildID, targetID, roleID, callerID, err := h.parseRoleParams(c)
	if err != nil {
		return err
	}
	if !h.canManage(c, guildID, callerID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing manage_roles permission")
	}

	updated, removeErr := h.members.RemoveRole(c.Context(), guildID, targetID, roleID)
	if removeErr != nil {
		return h.mapMemberError(c, removeErr)
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildMemberUpdate, updated)
	return httputil.Success(c, updated)
}

func (h *MemberHandler) parseRoleParams(c fiber.Ctx) (guildID, targetID, roleID, callerID snowflake.ID, err error) {
	guildID, err = snowflake.Parse(c.Params("id"))
	if err != nil {
		return 0, 0, 0, 0, httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	targetID, err = snowflake.Parse(c.Params("user_id"))
	if err != nil {
		return 0, 0, 0, 0, httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid user id")
	}
	roleID, err = snowflake.Parse(c.Params("roleID"))
	if err != nil {
		return 0, 0, 0, 0, httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid role id")
	}
	var ok bool
	callerID, ok = c.Locals("userID").(snowflake.ID)
	if !ok {
		return 0, 0, 0, 0, httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}
	return guildID, targetID, roleID, callerID, nil
}

// canManage reports whether callerID is the guild owner or holds manage_roles.
func (h *MemberHandler) canManage(c fiber.Ctx, guildID, callerID snowflake.ID) bool {
	return h.canModerate(c, guildID, callerID, protocol.PermissionManageRoles)
}

// canModerate reports whether callerID is the guild owner or holds perm.
func (h *MemberHandler) canModerate(c fiber.Ctx, guildID, callerID snowflake.ID, perm protocol.Permission) bool {
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

// mapMemberError converts member/guild-layer errors to appropriate HTTP responses.
func (h *MemberHandler) mapMemberError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, member.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownMember, "member not found")
	case errors.Is(err, member.ErrNicknameLength):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, member.ErrAlreadyMember):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, member.ErrEveryoneRole):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, guild.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownGuild, "guild not found")
	default:
		h.log.Error().Err(err).Str("handler", "member").Msg("unhandled member service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}
