package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

var defaultDashboardOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// DashboardCORS allows the run dashboard to read results and cancel runs from the given origins
func DashboardCORS(origins []string) fiber.Handler {
	if len(origins) == 0 {
		origins = defaultDashboardOrigins
	}
	return cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowMethods: strings.Join([]string{
			fiber.MethodGet,
			fiber.MethodPost,
			fiber.MethodDelete,
			fiber.MethodOptions,
		}, ","),
		AllowHeaders:  "Origin,Content-Type,Accept,Authorization,X-Trace-ID,X-Request-ID",
		ExposeHeaders: "X-Trace-ID,X-Request-ID",
		MaxAge:        86400,
	})
}
