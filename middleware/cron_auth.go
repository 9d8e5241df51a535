package middleware

import (
	"crypto/subtle"

	"naviai/config"

	"github.com/gofiber/fiber/v2"
)

// CronAuth guards the job trigger endpoints. Requests must carry the shared
// secret in X-Cron-Secret; when no secret is configured (development) the
// endpoints are open.
func CronAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := config.AppConfig.CronSecret
		if secret == "" {
			return c.Next()
		}

		provided := c.Get("X-Cron-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid cron secret",
			})
		}

		return c.Next()
	}
}
