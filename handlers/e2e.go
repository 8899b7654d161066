package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/services"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// RunManager is the part of the run service the HTTP layer drives
type RunManager interface {
	StartRun(req services.RunRequest, scope *models.TestScope) (string, error)
	RunSync(ctx context.Context, req services.RunRequest, scope *models.TestScope) (*models.E2ETestResult, error)
	GetResult(runID string) (*models.E2ETestResult, error)
	ActiveRuns() []models.ActiveRun
	RecentResults() []models.RunSummary
	CancelRun(runID string) error
	Stats() models.RunStats
}

// E2EHandler handles run triggers and result queries
type E2EHandler struct {
	runs     RunManager
	resolver *services.ScopeResolver
	cfg      *config.Config
	logger   *utils.Logger
}

// NewE2EHandler creates a new e2e handler instance
func NewE2EHandler(runs RunManager, resolver *services.ScopeResolver, cfg *config.Config, logger *utils.Logger) *E2EHandler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &E2EHandler{
		runs:     runs,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.WithSource("e2e_handler"),
	}
}

// RunAsync handles POST /api/e2e/run
func (h *E2EHandler) RunAsync(c *fiber.Ctx) error {
	runReq, scope, ok, err := h.prepare(c)
	if !ok {
		return err
	}

	runID, err := h.runs.StartRun(runReq, scope)
	if err != nil {
		return runStartError(c, err)
	}
	return utils.AcceptedResponse(c, "E2E run started", models.RunAccepted{RunID: runID, Scope: scope})
}

// RunSync handles POST /api/e2e/run-sync; the response is sent when the run has finished
func (h *E2EHandler) RunSync(c *fiber.Ctx) error {
	runReq, scope, ok, err := h.prepare(c)
	if !ok {
		return err
	}

	result, err := h.runs.RunSync(c.UserContext(), runReq, scope)
	if err != nil {
		return runStartError(c, err)
	}
	return utils.SuccessResponse(c, "E2E run finished", result)
}

// prepare validates a manual run request and resolves its scope
func (h *E2EHandler) prepare(c *fiber.Ctx) (services.RunRequest, *models.TestScope, bool, error) {
	var req models.E2ERunRequest
	if ok, err := parseAndValidate(c, &req); !ok {
		return services.RunRequest{}, nil, false, err
	}

	appURL := lo.Ternary(req.AppURL != "", req.AppURL, h.cfg.StagingURL)
	if appURL == "" {
		return services.RunRequest{}, nil, false, utils.BadRequestResponse(c, "No application URL", map[string]string{
			"appUrl": "Set appUrl or configure E2E_STAGING_URL",
		})
	}
	description := lo.Ternary(req.AppDescription != "", req.AppDescription, h.cfg.AppDescription)
	maxSteps := lo.Ternary(req.MaxSteps > 0, req.MaxSteps, h.cfg.MaxSteps)

	var scope *models.TestScope
	if len(req.ModuleIDs) > 0 {
		unknown := lo.Filter(req.ModuleIDs, func(id string, _ int) bool {
			_, found := h.resolver.Analyzer().ModuleByID(id)
			return !found
		})
		if len(unknown) > 0 {
			return services.RunRequest{}, nil, false, utils.BadRequestResponse(c, "Unknown module ids", map[string]string{
				"moduleIds": strings.Join(unknown, ", "),
			})
		}
		scope = h.resolver.ResolveScope(req.ModuleIDs, nil)
		if !scope.IsSmoke() {
			scope.TriggerType = models.TriggerManual
		}
	} else {
		scope = h.resolver.WholeAppScope(description, maxSteps)
	}

	timeout := h.cfg.RunTimeout()
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	h.logger.Info("Manual run requested", map[string]interface{}{
		"app_url":      appURL,
		"module_ids":   req.ModuleIDs,
		"flows":        len(scope.TestFlows),
		"triggered_by": req.TriggeredBy,
	})

	return services.RunRequest{
		RunID:          services.NewRunID(),
		AppURL:         appURL,
		AppDescription: description,
		Timeout:        timeout,
		MaxSteps:       maxSteps,
		Trigger: models.TriggerInfo{
			Type:        models.TriggerManual,
			BuildNumber: req.BuildNumber,
			Branch:      req.Branch,
			TriggeredBy: req.TriggeredBy,
		},
	}, scope, true, nil
}

// GetRun handles GET /api/e2e/runs/:id
func (h *E2EHandler) GetRun(c *fiber.Ctx) error {
	runID := c.Params("id")
	result, err := h.runs.GetResult(runID)
	if err != nil {
		if errors.Is(err, services.ErrRunNotFound) {
			return utils.NotFoundResponse(c, "E2E run")
		}
		return utils.InternalServerErrorResponse(c, err.Error())
	}
	return utils.SuccessResponse(c, "E2E run retrieved", result)
}

// ListRuns handles GET /api/e2e/runs
func (h *E2EHandler) ListRuns(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, "Recent E2E runs retrieved", h.runs.RecentResults())
}

// ListActiveRuns handles GET /api/e2e/runs/active
func (h *E2EHandler) ListActiveRuns(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, "Active E2E runs retrieved", h.runs.ActiveRuns())
}

// CancelRun handles DELETE /api/e2e/runs/:id
func (h *E2EHandler) CancelRun(c *fiber.Ctx) error {
	runID := c.Params("id")
	if err := h.runs.CancelRun(runID); err != nil {
		if errors.Is(err, services.ErrRunNotFound) {
			return utils.NotFoundResponse(c, "Active E2E run")
		}
		return utils.InternalServerErrorResponse(c, err.Error())
	}
	return utils.SuccessResponse(c, "E2E run cancellation requested", fiber.Map{"runId": runID})
}

// ListModules handles GET /api/e2e/modules
func (h *E2EHandler) ListModules(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, "Module mapping retrieved", h.resolver.Modules())
}

// GetStats handles GET /api/e2e/stats
func (h *E2EHandler) GetStats(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, "E2E run statistics retrieved", h.runs.Stats())
}

// runStartError maps run service errors to HTTP responses
func runStartError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrTooManyRuns) {
		return utils.TooManyRequestsResponse(c, "Too many E2E runs in progress, retry later")
	}
	return utils.InternalServerErrorResponse(c, err.Error())
}
