package handlers

import (
	"runtime"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
)

// StatusReporter exposes the internal state of a collaborator
type StatusReporter interface {
	GetStatus() map[string]interface{}
}

// DebugHandler serves diagnostics for operators
type DebugHandler struct {
	config *config.Config
	ai     StatusReporter
}

// NewDebugHandler creates a new debug handler
func NewDebugHandler(cfg *config.Config, ai StatusReporter) *DebugHandler {
	return &DebugHandler{
		config: cfg,
		ai:     ai,
	}
}

// GetConfig returns the effective configuration with secrets masked
func (h *DebugHandler) GetConfig(c *fiber.Ctx) error {
	cfg := h.config
	masked := fiber.Map{
		"server": fiber.Map{
			"port":        cfg.Port,
			"host":        cfg.Host,
			"environment": cfg.Environment,
		},
		"openai": fiber.Map{
			"api_key_set": cfg.OpenAIAPIKey != "",
			"api_key":     maskSensitiveValue(cfg.OpenAIAPIKey),
			"base_url":    cfg.OpenAIBaseURL,
			"model":       cfg.OpenAIModel,
			"rate_limit":  cfg.AIRateLimitPerMinute,
		},
		"e2e": fiber.Map{
			"enabled":             cfg.E2EEnabled,
			"staging_url":         cfg.StagingURL,
			"max_steps":           cfg.MaxSteps,
			"flow_step_cap":       cfg.FlowStepCap,
			"timeout_seconds":     cfg.TimeoutSeconds,
			"repository":          cfg.Repository,
			"branches":            cfg.Branches,
			"module_mapping":      cfg.ModuleMappingPath,
			"max_concurrent_runs": cfg.MaxConcurrentRuns,
			"result_ttl":          cfg.ResultTTL.String(),
		},
		"webhook": fiber.Map{
			"auth_enabled":  cfg.WebhookUsername != "",
			"username":      cfg.WebhookUsername,
			"password":      maskSensitiveValue(cfg.WebhookPassword),
			"rate_per_min":  cfg.WebhookRatePerMin,
			"teams_enabled": cfg.TeamsWebhookURL != "",
		},
		"browser": fiber.Map{
			"headless":     cfg.BrowserHeadless,
			"exec_path":    cfg.BrowserExecPath,
			"step_timeout": cfg.BrowserStepTimeout.String(),
			"window":       fiber.Map{"width": cfg.BrowserWidth, "height": cfg.BrowserHeight},
		},
		"logging": fiber.Map{
			"level":  cfg.LogLevel,
			"format": cfg.LogFormat,
			"file":   cfg.LogFile,
		},
	}

	return utils.SuccessResponse(c, "Configuration retrieved", masked)
}

// GetRoutes returns all registered routes
func (h *DebugHandler) GetRoutes(c *fiber.Ctx) error {
	routes := []fiber.Map{}
	for _, route := range c.App().GetRoutes(true) {
		routes = append(routes, fiber.Map{
			"method": route.Method,
			"path":   route.Path,
		})
	}

	return utils.SuccessResponse(c, "Routes retrieved", fiber.Map{
		"total":  len(routes),
		"routes": routes,
	})
}

// GetSystemInfo returns runtime and memory information
func (h *DebugHandler) GetSystemInfo(c *fiber.Ctx) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return utils.SuccessResponse(c, "System information retrieved", fiber.Map{
		"go_version":    runtime.Version(),
		"os":            runtime.GOOS,
		"arch":          runtime.GOARCH,
		"num_cpu":       runtime.NumCPU(),
		"num_goroutine": runtime.NumGoroutine(),
		"memory": fiber.Map{
			"alloc_mb":       bToMb(m.Alloc),
			"total_alloc_mb": bToMb(m.TotalAlloc),
			"heap_inuse_mb":  bToMb(m.HeapInuse),
			"sys_mb":         bToMb(m.Sys),
			"num_gc":         m.NumGC,
		},
	})
}

// GetAIStatus returns the AI client state including its circuit breaker
func (h *DebugHandler) GetAIStatus(c *fiber.Ctx) error {
	if h.ai == nil {
		return utils.ServiceUnavailableResponse(c, "AI service is not wired")
	}
	return utils.SuccessResponse(c, "AI status retrieved", h.ai.GetStatus())
}

// maskSensitiveValue keeps the first and last four characters of long secrets
func maskSensitiveValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + "****" + value[len(value)-4:]
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
