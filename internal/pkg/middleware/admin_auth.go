package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/tiktel/ttelgo/internal/pkg/env"
)

// AdminAuthMiddleware guards operator endpoints with the shared admin token
// from the environment. An empty configured token disables the group
// entirely rather than leaving it open.
func AdminAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		configured := env.GetEnv("ADMIN_API_TOKEN", "")
		if configured == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin API is not configured"})
		}

		token := c.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(configured)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid admin token"})
		}

		c.Locals(KeyActor, "admin")
		return c.Next()
	}
}
