package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/nocturnechat/nocturne-gateway/internal/guild"
	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
	"github.com/nocturnechat/nocturne-gateway/internal/user"
)

// UserHandler serves read-only user and own-guild-list endpoints. Account creation, credential
// storage, and profile mutation live with an external identity collaborator; see internal/auth.
type UserHandler struct {
	users  *user.Service
	guilds *guild.Service
	log    zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users *user.Service, guilds *guild.Service, logger zerolog.Logger) *UserHandler {
	return &UserHandler{users: users, guilds: guilds, log: logger}
}

// GetSelf handles GET /api/users/@me.
func (h *UserHandler) GetSelf(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	u, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return h.mapUserError(c, err)
	}
	return httputil.Success(c, u.ToPublic())
}

// GetUser handles GET /api/users/:id.
func (h *UserHandler) GetUser(c fiber.Ctx) error {
	targetID, err := snowflake.Parse(c.Params("id"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, protocol.ValidationError, "invalid user id")
	}

	u, err := h.users.GetByID(c.Context(), targetID)
	if err != nil {
		return h.mapUserError(c, err)
	}
	return httputil.Success(c, u.ToPublic())
}

// ListGuilds handles GET /api/users/@me/guilds.
func (h *UserHandler) ListGuilds(c fiber.Ctx) error {
	userID, ok := c.Locals("userID").(snowflake.ID)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing user identity")
	}

	guilds, err := h.guilds.ListByUser(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "user").Msg("list guilds failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
	return httputil.Success(c, guilds)
}

// mapUserError converts user-layer errors to appropriate HTTP responses.
func (h *UserHandler) mapUserError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, user.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownUser, "user not found")
	default:
		h.log.Error().Err(err).Str("handler", "user").Msg("unhandled user service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
	}
}
