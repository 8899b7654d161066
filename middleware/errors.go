package middleware

import (
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler is the application-wide fiber error handler rendering the standard error envelope
func ErrorHandler(logger *utils.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "An internal server error occurred"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}

		if code >= fiber.StatusInternalServerError {
			logger.WithTraceID(utils.GetTraceID(c)).WithSource("error").Error("Request processing error", err, map[string]interface{}{
				"method":     c.Method(),
				"path":       c.Path(),
				"request_id": getRequestID(c),
			})
		}
		return utils.ErrorResponse(c, code, errorCode(code), message, nil)
	}
}

// PanicRecovery turns a handler panic into a 500 response
func PanicRecovery(logger *utils.Logger) fiber.Handler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithTraceID(utils.GetTraceID(c)).WithSource("panic").Error("Panic recovered", fmt.Errorf("%v", r), map[string]interface{}{
					"method":      c.Method(),
					"path":        c.Path(),
					"stack_trace": string(debug.Stack()),
				})
				err = utils.ErrorResponse(c, fiber.StatusInternalServerError,
					"PANIC_RECOVERED", "An unexpected error occurred", nil)
			}
		}()
		return c.Next()
	}
}

// NotFoundHandler answers unmatched routes
func NotFoundHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return utils.NotFoundResponse(c, "Endpoint")
	}
}

func errorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "BAD_REQUEST"
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusNotFound:
		return "NOT_FOUND"
	case fiber.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case fiber.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case fiber.StatusTooManyRequests:
		return "RATE_LIMIT_EXCEEDED"
	case fiber.StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		if status >= 500 {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
