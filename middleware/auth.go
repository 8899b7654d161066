package middleware

import (
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
)

// WebhookAuth guards webhook routes with HTTP basic auth; an empty username disables the check
func WebhookAuth(username, password string, logger *utils.Logger) fiber.Handler {
	if username == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if logger == nil {
		logger = utils.GetLogger()
	}

	return basicauth.New(basicauth.Config{
		Users: map[string]string{username: password},
		Realm: "e2e-webhooks",
		Unauthorized: func(c *fiber.Ctx) error {
			logger.WithTraceID(utils.GetTraceID(c)).WithSource("auth").Warn("Webhook authentication failed", map[string]interface{}{
				"path":       c.Path(),
				"ip":         c.IP(),
				"request_id": getRequestID(c),
			})
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="e2e-webhooks"`)
			return utils.UnauthorizedResponse(c, "Invalid webhook credentials")
		},
	})
}
