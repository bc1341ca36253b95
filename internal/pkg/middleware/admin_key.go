package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/marketsub/internal/pkg/usercontext"
)

const AdminKeyHeader = "X-Admin-Key"

// AdminKeyAuth guards the administrative surface with a shared key. An
// empty configured key closes the surface entirely.
func AdminKeyAuth(adminKey string) fiber.Handler {
	expected := []byte(strings.TrimSpace(adminKey))
	return func(c *fiber.Ctx) error {
		if len(expected) == 0 {
			log.Warn("[Auth] ADMIN_API_KEY is not configured, admin request rejected")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "admin surface disabled",
			})
		}
		got := []byte(strings.TrimSpace(c.Get(AdminKeyHeader)))
		if len(got) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid admin key",
			})
		}
		usercontext.Set(c, usercontext.UserContext{IsLoggedIn: true, IsAdmin: true})
		return c.Next()
	}
}
