package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/gateway"
	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/role"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// RoleHandler serves role endpoints nested under a guild.
type RoleHandler struct {
	roles  *role.Service
	guilds *guild.Service
	authz  authorizer
	hub    *gateway.Hub
	ids    *snowflake.Generator
	log    zerolog.Logger
}

// NewRoleHandler creates a new role handler.
func NewRoleHandler(roles *role.Service, guilds *guild.Service, authz authorizer, hub *gateway.Hub, ids *snowflake.Generator, logger zerolog.Logger) *RoleHandler {
	return &RoleHandler{roles: roles, guilds: guilds, authz: authz, hub: hub, ids: ids, log: logger}
}

// ListRoles handles GET /api/guilds/:id/roles.
func (h *RoleHandler) ListRoles(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}

	roles, err := h.roles.ListByGuild(c.Context(), guildID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "role").Msg("list roles failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
	return httputil.Success(c, roles)
}

type createRoleBody struct {
	Name        string               `json:"name"`
	Color       int                  `json:"color"`
	Permissions *protocol.Permission `json:"permissions"`
	Hoist       bool                 `json:"hoist"`
	Mentionable bool                 `json:"mentionable"`
}

// CreateRole handles POST /api/guilds/:id/roles.
func (h *RoleHandler) CreateRole(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	callerID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}
	if !h.canManage(c, guildID, callerID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing manage_roles permission")
	}

	var body createRoleBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	r := role.Role{
		ID:          h.ids.Next(),
		GuildID:     guildID,
		Name:        body.Name,
		Color:       body.Color,
		Hoist:       body.Hoist,
		Mentionable: body.Mentionable,
	}
	if body.Permissions != nil {
		r.Permissions = *body.Permissions
	}

	created, err := h.roles.Create(c.Context(), r)
	if err != nil {
		return h.mapRoleError(c, err)
	}
	if _, err := h.guilds.AddRole(c.Context(), guildID, created.ID); err != nil {
		h.log.Error().Err(err).Str("handler", "role").Msg("add role to guild failed")
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildRoleCreate, created)
	return httputil.SuccessStatus(c, fiber.StatusCreated, created)
}

type updateRoleBody struct {
	Name        *string              `json:"name"`
	Color       *int                 `json:"color"`
	Position    *int                 `json:"position"`
	Permissions *protocol.Permission `json:"permissions"`
	Hoist       *bool                `json:"hoist"`
	Mentionable *bool                `json:"mentionable"`
}

// UpdateRole handles PATCH /api/guilds/:id/roles/:roleID.
func (h *RoleHandler) UpdateRole(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	roleID, err := snowflake.Parse(c.Params("roleID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid role id")
	}
	callerID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}
	if !h.canManage(c, guildID, callerID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing manage_roles permission")
	}

	var body updateRoleBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.InvalidBody, "invalid request body")
	}

	existing, err := h.roles.GetByID(c.Context(), roleID)
	if err != nil {
		return h.mapRoleError(c, err)
	}
	if existing.IsEveryone() && body.Name != nil {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.ValidationError, "the @everyone role cannot be renamed")
	}

	updated, err := h.roles.Update(c.Context(), roleID, body.Name, body.Color, body.Position, body.Permissions, body.Hoist, body.Mentionable)
	if err != nil {
		return h.mapRoleError(c, err)
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildRoleUpdate, updated)
	return httputil.Success(c, updated)
}

// DeleteRole handles DELETE /api/guilds/:id/roles/:roleID.
func (h *RoleHandler) DeleteRole(c fiber.Ctx) error {
	guildID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid guild id")
	}
	roleID, err := snowflake.Parse(c.Params("roleID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid role id")
	}
	callerID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}
	if !h.canManage(c, guildID, callerID) {
		return httputil.Fail(c, fiber.StatusForbidden, protocol.MissingPermissions, "missing manage_roles permission")
	}

	if err := h.roles.Delete(c.Context(), roleID); err != nil {
		return h.mapRoleError(c, err)
	}
	if _, err := h.guilds.RemoveRole(c.Context(), guildID, roleID); err != nil {
		h.log.Error().Err(err).Str("handler", "role").Msg("remove role from guild failed")
	}

	h.hub.DispatchGuild(guildID, protocol.EventGuildRoleDelete, fiber.Map{"id": roleID.String(), "guild_id": guildID.String()})
	return c.SendStatus(fiber.StatusNoContent)
}

// canManage reports whether callerID is the guild owner or holds manage_roles.
func (h *RoleHandler) canManage(c fiber.Ctx, guildID, callerID snowflake.ID) bool {
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
	return perms.Has(protocol.PermissionManageRoles)
}

// mapRoleError converts role-layer errors to appropriate HTTP responses.
func (h *RoleHandler) mapRoleError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, role.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownRole, "role not found")
	case errors.Is(err, role.ErrNameLength),
		errors.Is(err, role.ErrInvalidPosition),
		errors.Is(err, role.ErrInvalidPermissions),
		errors.Is(err, role.ErrInvalidColor):
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, err.Error())
	case errors.Is(err, role.ErrEveryoneImmutable):
		return httputil.Fail(c, fiber.StatusForbidden, protocol.ValidationError, err.Error())
	default:
		h.log.Error().Err(err).Str("handler", "role").Msg("unhandled role service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}
