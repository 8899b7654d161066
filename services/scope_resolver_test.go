package services

import (
	"testing"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *ScopeResolver {
	t.Helper()
	mapping := testMapping(t)
	logger := utils.NewNopLogger()
	return NewScopeResolver(mapping, NewChangeAnalyzer(mapping, logger), logger)
}

func flowIDs(scope *models.TestScope) []string {
	return lo.Map(scope.TestFlows, func(f models.ResolvedTestFlow, _ int) string { return f.FlowID })
}

func assertSmoke(t *testing.T, scope *models.TestScope) {
	t.Helper()
	require.NotNil(t, scope)
	assert.Equal(t, models.TriggerSmoke, scope.TriggerType)
	require.Len(t, scope.TestFlows, 1)
	assert.Equal(t, SmokeFlowName, scope.TestFlows[0].FlowName)
	assert.Equal(t, models.RoleAdmin, scope.Role)
	assert.Equal(t, 1, scope.TotalFlows)
	assert.Empty(t, scope.AffectedModuleIDs)
}

func TestScopeResolver_ResolveChanges(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name      string
		files     []string
		wantIDs   []string
		wantFlows []string
		wantSmoke bool
	}{
		{
			name:      "view change excludes flows bound to service files",
			files:     []string{"views/order/SalesOrderD2View.java"},
			wantIDs:   []string{"order"},
			wantFlows: []string{"order-query"},
		},
		{
			name:      "service change keeps both order flows in priority order",
			files:     []string{"api/service/order/Submit.java"},
			wantIDs:   []string{"order"},
			wantFlows: []string{"order-query", "order-submit"},
		},
		{
			name:      "no files",
			files:     nil,
			wantIDs:   []string{},
			wantSmoke: true,
		},
		{
			name:      "unmatched files",
			files:     []string{"docs/readme.md"},
			wantIDs:   []string{},
			wantSmoke: true,
		},
		{
			name:      "priorities sort across modules and ties keep mapping order",
			files:     []string{"api/reports/x.java", "web/src/views/inventory/Index.vue", "web/views/order/List.vue"},
			wantIDs:   []string{"order", "inventory", "reports"},
			wantFlows: []string{"order-query", "inventory-list", "reports-daily"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, scope := r.ResolveChanges(tt.files)
			assert.Equal(t, tt.wantIDs, ids)
			if tt.wantSmoke {
				assertSmoke(t, scope)
				return
			}
			assert.Equal(t, models.TriggerPush, scope.TriggerType)
			assert.Equal(t, tt.wantFlows, flowIDs(scope))
			assert.Equal(t, len(tt.wantFlows), scope.TotalFlows)
			assert.Equal(t, tt.wantIDs, scope.AffectedModuleIDs)
		})
	}
}

func TestScopeResolver_ResolveScopeWithoutFiles(t *testing.T) {
	r := newTestResolver(t)

	scope := r.ResolveScope([]string{"order"}, nil)
	assert.Equal(t, []string{"order-query", "order-submit"}, flowIDs(scope))
	assert.Equal(t, []string{"Sales Order"}, scope.ModuleNames)
	assert.Contains(t, scope.ScopeDescription, "### Sales Order (order) [critical]")
	assert.Contains(t, scope.ScopeDescription, "- Submit Order (/order/new)")
}

func TestScopeResolver_OnlyFlowFilteredOut(t *testing.T) {
	mapping, err := config.ParseModuleMapping([]byte(`
e2e:
  modules:
    - id: order
      filePatterns: ["**/views/order/**", "**/service/order/**"]
      testFlows:
        - id: order-submit
          name: Submit Order
          filePatterns: ["**/service/order/**"]
`))
	require.NoError(t, err)
	r := NewScopeResolver(mapping, nil, utils.NewNopLogger())

	ids, scope := r.ResolveChanges([]string{"views/order/Form.vue"})
	assert.Equal(t, []string{"order"}, ids)
	assertSmoke(t, scope)
}

func TestScopeResolver_UnknownModuleIDs(t *testing.T) {
	r := newTestResolver(t)

	assertSmoke(t, r.ResolveScope([]string{"billing"}, nil))
	assertSmoke(t, r.ResolveScope(nil, nil))
}

func TestScopeResolver_Roles(t *testing.T) {
	r := newTestResolver(t)

	sales := r.ResolveScope([]string{"inventory"}, nil)
	assert.Equal(t, "SALES", sales.Role)
	assert.Equal(t, "SALES", sales.Login.Role)
	assert.Equal(t, "/login", sales.Login.URL)

	mixed := r.ResolveScope([]string{"inventory", "order"}, nil)
	assert.Equal(t, models.RoleAdmin, mixed.Role)
	assert.Equal(t, "admin", mixed.Login.Username)
}

func TestScopeResolver_Deployment(t *testing.T) {
	r := newTestResolver(t)

	scope := r.ResolveDeploymentScope()
	assert.Equal(t, models.TriggerDeployment, scope.TriggerType)
	assert.Equal(t, []string{"order", "reports"}, scope.AffectedModuleIDs)
	assert.Equal(t, []string{"order-query", "order-submit", "reports-daily"}, flowIDs(scope))
}

func TestScopeResolver_DeploymentWithoutCriticalModules(t *testing.T) {
	r := NewScopeResolver(&models.ModuleMapping{}, nil, utils.NewNopLogger())
	assertSmoke(t, r.ResolveDeploymentScope())
}

func TestScopeResolver_Deterministic(t *testing.T) {
	r := newTestResolver(t)
	files := []string{"web/src/views/inventory/Index.vue", "api/service/order/A.java", "api/reports/B.java"}

	_, first := r.ResolveChanges(files)
	for i := 0; i < 5; i++ {
		_, again := r.ResolveChanges(files)
		assert.Equal(t, first, again)
	}
}

func TestScopeResolver_WholeAppScope(t *testing.T) {
	r := newTestResolver(t)

	scope := r.WholeAppScope("", 25)
	assert.Equal(t, models.TriggerManual, scope.TriggerType)
	require.Len(t, scope.TestFlows, 1)
	assert.Equal(t, WholeAppFlowID, scope.TestFlows[0].FlowID)
	assert.Equal(t, 25, scope.TestFlows[0].MaxSteps)
	assert.NotEmpty(t, scope.TestFlows[0].StepsHint)

	described := r.WholeAppScope("  CRM for field sales  ", 10)
	assert.Equal(t, "CRM for field sales", described.TestFlows[0].StepsHint)
}

func TestChooseRole(t *testing.T) {
	assert.Equal(t, models.RoleAdmin, chooseRole(nil))
	assert.Equal(t, models.RoleAdmin, chooseRole([]string{"", ""}))
	assert.Equal(t, "SALES", chooseRole([]string{"SALES", "WAREHOUSE"}))
	assert.Equal(t, models.RoleAdmin, chooseRole([]string{"SALES", models.RoleAdmin}))
}
