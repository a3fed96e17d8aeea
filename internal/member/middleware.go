package member

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
	"github.com/nocturnechat/nocturne-gateway/internal/snowflake"
)

// RequireGuildMember returns Fiber middleware that blocks users who are not a member of the
// guild named by the "guildID" route parameter. Must be placed after an auth middleware that
// populates c.Locals("userID") with a snowflake.ID.
func RequireGuildMember(svc *Service) fiber.Handler {
	return func(c fiber.Ctx) error {
		userID, ok := c.Locals("userID").(snowflake.ID)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "authentication required")
		}

		guildID, err := snowflake.Parse(c.Params("guildID"))
		if err != nil {
			return httputil.Fail(c, fiber.StatusNotFound, protocol.UnknownGuild, "unknown guild")
		}

		m, err := svc.Get(c.Context(), guildID, userID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return httputil.Fail(c, fiber.StatusForbidden, protocol.UnknownMember, "guild membership is required")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, protocol.InternalError, "an internal error occurred")
		}

		c.Locals("member", m)
		return c.Next()
	}
}
