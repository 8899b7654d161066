package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	KeyGenerator      func(*fiber.Ctx) string
	Logger            *utils.Logger
}

// RateLimiting limits requests per key, the client IP by default
func RateLimiting(config RateLimitConfig) fiber.Handler {
	if config.RequestsPerMinute <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	if config.BurstSize <= 0 {
		config.BurstSize = max(1, config.RequestsPerMinute/6)
	}
	if config.KeyGenerator == nil {
		config.KeyGenerator = func(c *fiber.Ctx) string { return c.IP() }
	}
	if config.Logger == nil {
		config.Logger = utils.GetLogger()
	}

	every := rate.Every(time.Minute / time.Duration(config.RequestsPerMinute))
	retryAfter := strconv.Itoa(max(1, int(time.Minute.Seconds())/config.RequestsPerMinute))
	var limiters sync.Map

	return func(c *fiber.Ctx) error {
		key := config.KeyGenerator(c)
		v, _ := limiters.LoadOrStore(key, rate.NewLimiter(every, config.BurstSize))
		if v.(*rate.Limiter).Allow() {
			return c.Next()
		}

		config.Logger.WithTraceID(utils.GetTraceID(c)).WithSource("rate_limiter").Warn("Rate limit exceeded", map[string]interface{}{
			"key":                 key,
			"path":                c.Path(),
			"requests_per_minute": config.RequestsPerMinute,
		})
		c.Set(fiber.HeaderRetryAfter, retryAfter)
		return utils.ErrorResponse(c, fiber.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
			"Too many requests", map[string]string{"retry_after": retryAfter})
	}
}
