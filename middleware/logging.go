package middleware

import (
	"time"

	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	headerTraceID   = "X-Trace-ID"
	headerRequestID = "X-Request-ID"
	localRequestID  = "request_id"
	localLogger     = "logger"
)

// LoggingConfig holds logging middleware configuration
type LoggingConfig struct {
	Logger          *utils.Logger
	SkipPaths       []string
	SkipSuccessLogs bool
}

// DefaultLoggingConfig returns default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Logger:    utils.GetLogger(),
		SkipPaths: []string{"/health", "/ws"},
	}
}

// RequestLogging assigns trace and request ids, stores a request logger and logs every response
func RequestLogging(config ...LoggingConfig) fiber.Handler {
	cfg := DefaultLoggingConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return func(c *fiber.Ctx) error {
		traceID, requestID := assignIDs(c)
		c.Locals(localLogger, cfg.Logger.WithTraceID(traceID).WithSource("http").WithContext(map[string]interface{}{
			"request_id": requestID,
		}))

		if lo.Contains(cfg.SkipPaths, c.Path()) {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		duration := time.Since(start)

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		if cfg.SkipSuccessLogs && status < 400 {
			return err
		}
		utils.LogResponse(c, cfg.Logger, status, duration)
		return err
	}
}

// CorrelationID ensures trace and request ids are present without logging
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		assignIDs(c)
		return c.Next()
	}
}

// assignIDs reuses incoming correlation headers or generates new ones
func assignIDs(c *fiber.Ctx) (traceID, requestID string) {
	traceID = c.Get(headerTraceID)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	requestID = c.Get(headerRequestID)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	utils.SetTraceID(c, traceID)
	c.Locals(localRequestID, requestID)
	c.Set(headerTraceID, traceID)
	c.Set(headerRequestID, requestID)
	return traceID, requestID
}

// GetLoggerFromContext returns the request logger, or a trace-tagged global logger
func GetLoggerFromContext(c *fiber.Ctx) *utils.Logger {
	if logger, ok := c.Locals(localLogger).(*utils.Logger); ok {
		return logger
	}
	return utils.GetLogger().WithTraceID(utils.GetTraceID(c)).WithSource("http")
}

// getRequestID gets request ID from context
func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(localRequestID).(string); ok {
		return id
	}
	return ""
}
