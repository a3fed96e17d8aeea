package auth

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/nocturnechat/nocturne-gateway/internal/httputil"
	"github.com/nocturnechat/nocturne-gateway/internal/protocol"
)

const bearerPrefix = "Bearer "

// RequireAuth returns Fiber middleware that validates a bearer token through validator and
// stores the resulting user id in c.Locals("userID").
func RequireAuth(validator TokenValidator) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "missing or malformed authorization header")
		}

		userID, err := validator.Validate(c.Context(), strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, protocol.Unauthorized, "invalid or expired token")
		}

		c.Locals("userID", userID)
		return c.Next()
	}
}
