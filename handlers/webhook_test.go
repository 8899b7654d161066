package handlers

import (
	"net/http"
	"testing"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/services"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupWebhookApp(t *testing.T, runs *MockRunManager, cfg *config.Config) *fiber.App {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	handler := NewWebhookHandler(runs, testResolver(t), cfg, utils.NewNopLogger())

	app := fiber.New()
	app.Post("/webhook/push", handler.Push)
	app.Post("/webhook/push/manual", handler.ManualPush)
	app.Post("/webhook/push/analyze", handler.Analyze)
	app.Post("/webhook/deployment-completed", handler.DeploymentCompleted)
	return app
}

// pushPayload builds a service-hook body with one commit touching paths
func pushPayload(repo, ref, commit string, paths ...string) map[string]interface{} {
	changes := make([]map[string]interface{}, 0, len(paths))
	for _, p := range paths {
		changes = append(changes, map[string]interface{}{
			"changeType": "edit",
			"item":       map[string]string{"path": p},
		})
	}
	return map[string]interface{}{
		"eventType": "git.push",
		"resource": map[string]interface{}{
			"refUpdates": []map[string]string{{"name": ref}},
			"commits": []map[string]interface{}{{
				"commitId": commit,
				"comment":  "change",
				"changes":  changes,
			}},
			"repository": map[string]string{"name": repo},
			"pushedBy":   map[string]string{"displayName": "Dana Developer"},
		},
	}
}

// captureStart expects one StartRun call and hands back what it received
func captureStart(runs *MockRunManager) (*services.RunRequest, **models.TestScope) {
	req := &services.RunRequest{}
	var scope *models.TestScope
	scopeRef := &scope
	runs.On("StartRun", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			*req = args.Get(0).(services.RunRequest)
			*scopeRef = args.Get(1).(*models.TestScope)
		}).
		Return("run-42", nil).Once()
	return req, scopeRef
}

func TestWebhookHandler_Push(t *testing.T) {
	runs := &MockRunManager{}
	req, scope := captureStart(runs)
	app := setupWebhookApp(t, runs, nil)

	resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/push",
		pushPayload("sales-web", "refs/heads/main", "0123456789abcdef",
			"/web/src/views/order/List.vue", "/web/src/views/order/List.vue", "/README.md")))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted models.RunAccepted
	dataAs(t, responseBody(t, resp).Data, &accepted)
	assert.Equal(t, "run-42", accepted.RunID)

	assert.Equal(t, models.TriggerPush, req.Trigger.Type)
	assert.Equal(t, "main", req.Trigger.Branch)
	assert.Equal(t, "01234567", req.Trigger.BuildNumber)
	assert.Equal(t, "Dana Developer", req.Trigger.TriggeredBy)
	assert.Equal(t, "https://staging.example.com", req.AppURL)

	require.NotNil(t, *scope)
	assert.Equal(t, []string{"order"}, (*scope).AffectedModuleIDs)
	// the submit flow only follows service changes
	require.Len(t, (*scope).TestFlows, 1)
	assert.Equal(t, "order-query", (*scope).TestFlows[0].FlowID)
	runs.AssertExpectations(t)
}

func TestWebhookHandler_PushUnmatchedFilesRunSmoke(t *testing.T) {
	runs := &MockRunManager{}
	_, scope := captureStart(runs)
	app := setupWebhookApp(t, runs, nil)

	resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/push",
		pushPayload("sales-web", "refs/heads/main", "abc", "/docs/guide.md")))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, (*scope).IsSmoke())
	assert.Equal(t, services.SmokeFlowID, (*scope).TestFlows[0].FlowID)
}

func TestWebhookHandler_PushSkipped(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(cfg *config.Config)
		payload    map[string]interface{}
		wantReason string
	}{
		{
			name:       "e2e disabled",
			mutate:     func(cfg *config.Config) { cfg.E2EEnabled = false },
			payload:    pushPayload("sales-web", "refs/heads/main", "abc", "/a.go"),
			wantReason: "e2e testing is disabled",
		},
		{
			name:       "no staging url",
			mutate:     func(cfg *config.Config) { cfg.StagingURL = "" },
			payload:    pushPayload("sales-web", "refs/heads/main", "abc", "/a.go"),
			wantReason: "no staging url configured",
		},
		{
			name:       "other repository",
			mutate:     func(cfg *config.Config) { cfg.Repository = "sales-web" },
			payload:    pushPayload("billing", "refs/heads/main", "abc", "/a.go"),
			wantReason: "repository billing is not monitored",
		},
		{
			name:       "other branch",
			mutate:     func(cfg *config.Config) { cfg.Branches = []string{"main", "release"} },
			payload:    pushPayload("sales-web", "refs/heads/feature/x", "abc", "/a.go"),
			wantReason: "branch feature/x is not monitored",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			runs := &MockRunManager{}
			app := setupWebhookApp(t, runs, cfg)

			resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/push", tt.payload))
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var skipped models.WebhookSkipped
			dataAs(t, responseBody(t, resp).Data, &skipped)
			assert.True(t, skipped.Skipped)
			assert.Equal(t, tt.wantReason, skipped.Reason)
			runs.AssertNotCalled(t, "StartRun", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhookHandler_PushInvalidPayload(t *testing.T) {
	app := setupWebhookApp(t, &MockRunManager{}, nil)

	resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/push", "{broken"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookHandler_ManualPush(t *testing.T) {
	runs := &MockRunManager{}
	req, scope := captureStart(runs)
	app := setupWebhookApp(t, runs, nil)

	diff := "diff --git a/api/service/order/Submit.java b/api/service/order/Submit.java\n" +
		"index 1..2 100644\n--- a/api/service/order/Submit.java\n+++ b/api/service/order/Submit.java\n"
	resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/push/manual", models.ManualPushRequest{
		ChangedFiles: []string{"/web/src/views/inventory/Index.vue"},
		GitDiff:      diff,
		Branch:       "main",
		BuildNumber:  "77",
	}))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Equal(t, "manual", req.Trigger.TriggeredBy)
	assert.Equal(t, "77", req.Trigger.BuildNumber)
	assert.Equal(t, []string{"order", "inventory"}, (*scope).AffectedModuleIDs)
	// ADMIN wins over SALES when both are required
	assert.Equal(t, models.RoleAdmin, (*scope).Role)

	flowIDs := make([]string, 0, len((*scope).TestFlows))
	for _, f := range (*scope).TestFlows {
		flowIDs = append(flowIDs, f.FlowID)
	}
	assert.Equal(t, []string{"order-submit", "order-query", "inventory-list"}, flowIDs)
}

func TestWebhookHandler_ManualPushRunLimit(t *testing.T) {
	runs := &MockRunManager{}
	runs.On("StartRun", mock.Anything, mock.Anything).Return("", services.ErrTooManyRuns)
	app := setupWebhookApp(t, runs, nil)

	resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/push/manual", models.ManualPushRequest{
		ChangedFiles: []string{"a.go"},
	}))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebhookHandler_Analyze(t *testing.T) {
	cfg := testConfig()
	cfg.E2EEnabled = false
	runs := &MockRunManager{}
	app := setupWebhookApp(t, runs, cfg)

	resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/push/analyze", models.ManualPushRequest{
		ChangedFiles: []string{"web/src/views/order/Detail.vue", "./web/src/views/order/Detail.vue"},
	}))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var analysis models.ScopeAnalysis
	dataAs(t, responseBody(t, resp).Data, &analysis)
	assert.Equal(t, []string{"web/src/views/order/Detail.vue"}, analysis.ChangedFiles)
	assert.Equal(t, []string{"order"}, analysis.AffectedModuleIDs)
	require.NotNil(t, analysis.Scope)
	assert.Contains(t, analysis.Scope.ScopeDescription, "Sales Order (order) [critical]")
	runs.AssertNotCalled(t, "StartRun", mock.Anything, mock.Anything)
}

func TestWebhookHandler_DeploymentCompleted(t *testing.T) {
	t.Run("successful deployment runs critical modules", func(t *testing.T) {
		runs := &MockRunManager{}
		req, scope := captureStart(runs)
		app := setupWebhookApp(t, runs, nil)

		resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/deployment-completed", models.DeploymentEvent{
			BuildNumber: "20260301.1",
			Branch:      "main",
			Status:      "succeeded",
		}))
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Equal(t, models.TriggerDeployment, req.Trigger.Type)
		assert.Equal(t, "20260301.1", req.Trigger.BuildNumber)
		assert.Equal(t, models.TriggerDeployment, (*scope).TriggerType)
		assert.Equal(t, []string{"order"}, (*scope).AffectedModuleIDs)
		assert.Len(t, (*scope).TestFlows, 2)
	})

	t.Run("failed deployment is skipped", func(t *testing.T) {
		runs := &MockRunManager{}
		app := setupWebhookApp(t, runs, nil)

		resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/deployment-completed", models.DeploymentEvent{
			BuildNumber: "20260301.2",
			Status:      "failed",
		}))
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var skipped models.WebhookSkipped
		dataAs(t, responseBody(t, resp).Data, &skipped)
		assert.Equal(t, "deployment status failed", skipped.Reason)
		runs.AssertNotCalled(t, "StartRun", mock.Anything, mock.Anything)
	})

	t.Run("build number is required", func(t *testing.T) {
		app := setupWebhookApp(t, &MockRunManager{}, nil)

		resp := do(t, app, jsonRequest(t, http.MethodPost, "/webhook/deployment-completed", map[string]string{"status": "succeeded"}))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := responseBody(t, resp)
		require.NotNil(t, body.Error)
		assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
		assert.Equal(t, "This field is required", body.Error.Details["BuildNumber"])
	})
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "01234567", shortCommit("0123456789"))
	assert.Equal(t, "abc", shortCommit("abc"))
	assert.Equal(t, "", shortCommit(""))
}
