package handlers

import (
	"strings"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/services"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
)

// WebhookHandler turns push and deployment notifications into scoped runs
type WebhookHandler struct {
	runs     RunManager
	resolver *services.ScopeResolver
	cfg      *config.Config
	logger   *utils.Logger
}

// NewWebhookHandler creates a new webhook handler instance
func NewWebhookHandler(runs RunManager, resolver *services.ScopeResolver, cfg *config.Config, logger *utils.Logger) *WebhookHandler {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &WebhookHandler{
		runs:     runs,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.WithSource("webhook_handler"),
	}
}

// Push handles POST /webhook/push with a git push service-hook payload
func (h *WebhookHandler) Push(c *fiber.Ctx) error {
	var event models.PushEvent
	if err := c.BodyParser(&event); err != nil {
		return utils.BadRequestResponse(c, "Invalid push payload", map[string]string{"error": err.Error()})
	}

	branch := ""
	if len(event.Resource.RefUpdates) > 0 {
		branch = strings.TrimPrefix(event.Resource.RefUpdates[0].Name, "refs/heads/")
	}
	repo := event.Resource.Repository.Name

	if reason := h.gate(); reason != "" {
		return h.skip(c, reason)
	}
	if !h.cfg.RepositoryAllowed(repo) {
		return h.skip(c, "repository "+repo+" is not monitored")
	}
	if !h.cfg.BranchAllowed(branch) {
		return h.skip(c, "branch "+branch+" is not monitored")
	}

	var paths []string
	for _, commit := range event.Resource.Commits {
		for _, change := range commit.Changes {
			paths = append(paths, change.Item.Path)
		}
	}
	files := services.NormalizeWebhookPaths(paths)

	_, scope := h.resolver.ResolveChanges(files)
	trigger := models.TriggerInfo{
		Type:        models.TriggerPush,
		Branch:      branch,
		TriggeredBy: event.Resource.PushedBy.DisplayName,
	}
	if len(event.Resource.Commits) > 0 {
		trigger.BuildNumber = shortCommit(event.Resource.Commits[0].CommitID)
	}

	h.logger.Info("Push received", map[string]interface{}{
		"repository":    repo,
		"branch":        branch,
		"changed_files": len(files),
		"modules":       scope.AffectedModuleIDs,
	})
	return h.start(c, scope, trigger)
}

// ManualPush handles POST /webhook/push/manual with an explicit file list or git diff
func (h *WebhookHandler) ManualPush(c *fiber.Ctx) error {
	var req models.ManualPushRequest
	if ok, err := parseAndValidate(c, &req); !ok {
		return err
	}
	if reason := h.gate(); reason != "" {
		return h.skip(c, reason)
	}

	files := manualPushFiles(req)
	_, scope := h.resolver.ResolveChanges(files)
	return h.start(c, scope, models.TriggerInfo{
		Type:        models.TriggerPush,
		Branch:      req.Branch,
		BuildNumber: req.BuildNumber,
		TriggeredBy: "manual",
	})
}

// Analyze handles POST /webhook/push/analyze; it resolves the scope without running it
func (h *WebhookHandler) Analyze(c *fiber.Ctx) error {
	var req models.ManualPushRequest
	if ok, err := parseAndValidate(c, &req); !ok {
		return err
	}

	files := manualPushFiles(req)
	ids, scope := h.resolver.ResolveChanges(files)
	return utils.SuccessResponse(c, "Change analysis completed", models.ScopeAnalysis{
		ChangedFiles:      files,
		AffectedModuleIDs: ids,
		Scope:             scope,
	})
}

// DeploymentCompleted handles POST /webhook/deployment-completed
func (h *WebhookHandler) DeploymentCompleted(c *fiber.Ctx) error {
	var event models.DeploymentEvent
	if ok, err := parseAndValidate(c, &event); !ok {
		return err
	}
	if !event.Succeeded() {
		return h.skip(c, "deployment status "+event.Status)
	}
	if reason := h.gate(); reason != "" {
		return h.skip(c, reason)
	}
	if !h.cfg.BranchAllowed(event.Branch) {
		return h.skip(c, "branch "+event.Branch+" is not monitored")
	}

	scope := h.resolver.ResolveDeploymentScope()
	h.logger.Info("Deployment completed", map[string]interface{}{
		"build_number": event.BuildNumber,
		"branch":       event.Branch,
		"modules":      scope.AffectedModuleIDs,
	})
	return h.start(c, scope, models.TriggerInfo{
		Type:        models.TriggerDeployment,
		BuildNumber: event.BuildNumber,
		Branch:      event.Branch,
		TriggeredBy: "deployment",
	})
}

// gate returns why webhook runs are disabled, or ""
func (h *WebhookHandler) gate() string {
	switch {
	case !h.cfg.E2EEnabled:
		return "e2e testing is disabled"
	case h.cfg.StagingURL == "":
		return "no staging url configured"
	default:
		return ""
	}
}

func (h *WebhookHandler) skip(c *fiber.Ctx, reason string) error {
	h.logger.Info("Webhook skipped", map[string]interface{}{"reason": reason, "path": c.Path()})
	return utils.SuccessResponse(c, "Webhook received, no run started", models.WebhookSkipped{
		Skipped: true,
		Reason:  reason,
	})
}

func (h *WebhookHandler) start(c *fiber.Ctx, scope *models.TestScope, trigger models.TriggerInfo) error {
	runID, err := h.runs.StartRun(services.RunRequest{
		RunID:          services.NewRunID(),
		AppURL:         h.cfg.StagingURL,
		AppDescription: h.cfg.AppDescription,
		Timeout:        h.cfg.RunTimeout(),
		MaxSteps:       h.cfg.MaxSteps,
		Trigger:        trigger,
	}, scope)
	if err != nil {
		return runStartError(c, err)
	}
	return utils.AcceptedResponse(c, "E2E run started", models.RunAccepted{RunID: runID, Scope: scope})
}

func manualPushFiles(req models.ManualPushRequest) []string {
	files := append([]string(nil), req.ChangedFiles...)
	if req.GitDiff != "" {
		files = append(files, services.ParseGitDiffOutput(req.GitDiff)...)
	}
	return services.NormalizeWebhookPaths(files)
}

func shortCommit(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
