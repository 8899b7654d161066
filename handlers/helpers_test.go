package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/services"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunManager is a mock implementation of the run service
type MockRunManager struct {
	mock.Mock
}

func (m *MockRunManager) StartRun(req services.RunRequest, scope *models.TestScope) (string, error) {
	args := m.Called(req, scope)
	return args.String(0), args.Error(1)
}

func (m *MockRunManager) RunSync(ctx context.Context, req services.RunRequest, scope *models.TestScope) (*models.E2ETestResult, error) {
	args := m.Called(ctx, req, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.E2ETestResult), args.Error(1)
}

func (m *MockRunManager) GetResult(runID string) (*models.E2ETestResult, error) {
	args := m.Called(runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.E2ETestResult), args.Error(1)
}

func (m *MockRunManager) ActiveRuns() []models.ActiveRun {
	args := m.Called()
	return args.Get(0).([]models.ActiveRun)
}

func (m *MockRunManager) RecentResults() []models.RunSummary {
	args := m.Called()
	return args.Get(0).([]models.RunSummary)
}

func (m *MockRunManager) CancelRun(runID string) error {
	args := m.Called(runID)
	return args.Error(0)
}

func (m *MockRunManager) Stats() models.RunStats {
	args := m.Called()
	return args.Get(0).(models.RunStats)
}

const handlerMapping = `
e2e:
  login:
    roleAccounts:
      SALES:
        username: sales
        password: sales
  modules:
    - id: order
      name: Sales Order
      critical: true
      filePatterns: ["**/views/order/**", "**/service/order/**"]
      testFlows:
        - id: order-query
          route: /order/list
          priority: 2
        - id: order-submit
          route: /order/new
          priority: 1
          filePatterns: ["**/service/order/**"]
    - id: inventory
      name: Inventory
      requiredRole: SALES
      filePatterns: ["**/views/inventory/**"]
      testFlows:
        - id: inventory-list
          route: /inventory
    - id: audit
      name: Audit Trail
      filePatterns: ["**/audit/**"]
`

func testConfig() *config.Config {
	return &config.Config{
		Environment:    "test",
		StagingURL:     "https://staging.example.com",
		AppDescription: "Sales back office",
		E2EEnabled:     true,
		MaxSteps:       30,
		FlowStepCap:    10,
		TimeoutSeconds: 600,
	}
}

func testResolver(t *testing.T) *services.ScopeResolver {
	t.Helper()
	mapping, err := config.ParseModuleMapping([]byte(handlerMapping))
	require.NoError(t, err)
	logger := utils.NewNopLogger()
	return services.NewScopeResolver(mapping, services.NewChangeAnalyzer(mapping, logger), logger)
}

func jsonRequest(t *testing.T, method, path string, body interface{}) *http.Request {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// responseBody decodes the standard envelope
func responseBody(t *testing.T, resp *http.Response) utils.StandardResponse {
	t.Helper()
	defer resp.Body.Close()
	var out utils.StandardResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

// dataAs re-decodes the envelope data into v
func dataAs(t *testing.T, data interface{}, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func do(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}
