package services

import (
	"context"
	"testing"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedStep(number int, action models.Action, msg string, shot []byte) *models.TestStep {
	return &models.TestStep{
		StepNumber:   number,
		Action:       action,
		Target:       "#el",
		Description:  "step " + string(action),
		Status:       models.StepFailed,
		ErrorMessage: msg,
		Screenshot:   shot,
	}
}

func TestDetermineSeverity(t *testing.T) {
	tests := []struct {
		name    string
		actions []models.Action
		want    models.Severity
	}{
		{name: "click is high", actions: []models.Action{models.ActionAssert, models.ActionClick}, want: models.SeverityHigh},
		{name: "navigate is high", actions: []models.Action{models.ActionNavigate}, want: models.SeverityHigh},
		{name: "type and assert are medium", actions: []models.Action{models.ActionType, models.ActionAssert}, want: models.SeverityMedium},
		{name: "wait is medium", actions: []models.Action{models.ActionWait}, want: models.SeverityMedium},
		{name: "screenshot alone is low", actions: []models.Action{models.ActionScreenshot}, want: models.SeverityLow},
		{name: "no failures", want: models.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var failed []*models.TestStep
			for i, a := range tt.actions {
				failed = append(failed, failedStep(i+1, a, "err", nil))
			}
			assert.Equal(t, tt.want, DetermineSeverity(failed))
		})
	}
}

func TestBugConsolidator_Fallback(t *testing.T) {
	shot := []byte("png")
	f := flow("order-submit", 1, "/order/new")
	f.FlowName = "Submit Order"
	passed := &models.TestStep{StepNumber: 1, Action: models.ActionType, Description: "type customer", Status: models.StepPassed}
	first := failedStep(2, models.ActionAssert, "total not shown", nil)
	second := failedStep(3, models.ActionClick, "button disabled", shot)
	all := []*models.TestStep{passed, first, second}
	failed := []*models.TestStep{first, second}

	tests := []struct {
		name     string
		analyzer BugAnalyzer
	}{
		{name: "no analyzer", analyzer: nil},
		{name: "analyzer error", analyzer: &fakeAnalyzer{err: errBoom}},
		{name: "analyzer panic", analyzer: &fakeAnalyzer{panics: true}},
		{name: "empty analysis", analyzer: &fakeAnalyzer{analysis: &BugAnalysis{Impact: "only impact"}}},
		{name: "nil analysis", analyzer: &fakeAnalyzer{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBugConsolidator(tt.analyzer, time.Second, utils.NewNopLogger())
			bug := c.Consolidate(context.Background(), f, all, failed, "https://app/order/new", []string{"e1", "e2"})

			assert.Equal(t, "Submit Order test failed", bug.Title)
			assert.Equal(t, `2 of 3 steps failed in the "Submit Order" flow of module Sales Order.`, bug.Summary)
			assert.Contains(t, bug.TechnicalDetail, "Step 2")
			assert.Contains(t, bug.TechnicalDetail, "error: button disabled")
			assert.Equal(t, `Users may be unable to complete "Submit Order" (/order/new).`, bug.Impact)
			assert.Contains(t, bug.SuggestedFix, "/order/new")
			assert.False(t, bug.AIGenerated)

			assert.Equal(t, models.SeverityHigh, bug.Severity)
			assert.Equal(t, 2, bug.StepNumber)
			assert.Equal(t, 2, bug.FailedStepCount)
			assert.Equal(t, "step ASSERT", bug.ExpectedBehavior)
			assert.Equal(t, "total not shown", bug.ActualBehavior)
			assert.Equal(t, shot, bug.Screenshot)
			assert.True(t, bug.HasScreenshot)
			assert.Equal(t, "e1\ne2", bug.ConsoleErrors)
			assert.Equal(t, "order-submit", bug.FlowID)
			assert.Equal(t, "order", bug.ModuleID)
			assert.Contains(t, bug.Description, "## Summary\n")
			assert.Contains(t, bug.Description, "## Suggested fix\n")
		})
	}
}

func TestBugConsolidator_AIAnalysisFillsGaps(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: &BugAnalysis{
		Title:   "Submit button stays disabled",
		Summary: "Orders cannot be submitted",
	}}
	c := NewBugConsolidator(analyzer, time.Second, utils.NewNopLogger())
	failed := []*models.TestStep{failedStep(4, models.ActionClick, "disabled", nil)}

	bug := c.Consolidate(context.Background(), flow("submit", 1, "/order/new"), failed, failed, "", nil)

	assert.True(t, bug.AIGenerated)
	assert.Equal(t, "Submit button stays disabled", bug.Title)
	assert.Equal(t, "Orders cannot be submitted", bug.Summary)
	assert.NotEmpty(t, bug.Impact)
	assert.NotEmpty(t, bug.TechnicalDetail)
	assert.False(t, bug.HasScreenshot)
	assert.Empty(t, bug.ConsoleErrors)
	assert.Equal(t, 1, analyzer.calls)
}

// slowAnalyzer waits for its context
type slowAnalyzer struct{}

func (slowAnalyzer) AnalyzeBug(ctx context.Context, _ BugAnalysisRequest) (*BugAnalysis, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestBugConsolidator_AnalysisTimeout(t *testing.T) {
	c := NewBugConsolidator(slowAnalyzer{}, 20*time.Millisecond, utils.NewNopLogger())
	failed := []*models.TestStep{failedStep(1, models.ActionWait, "timeout", nil)}

	start := time.Now()
	bug := c.Consolidate(context.Background(), flow("f", 1, "/"), failed, failed, "", nil)

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, bug.AIGenerated)
	assert.Equal(t, models.SeverityMedium, bug.Severity)
}

func TestSummarizeSteps(t *testing.T) {
	out := SummarizeSteps([]*models.TestStep{
		{StepNumber: 1, Action: models.ActionClick, Target: "#go", Description: "click go", Status: models.StepPassed},
		{StepNumber: 2, Action: models.ActionAssert, Target: "#msg", Description: "see message", Status: models.StepFailed, ErrorMessage: "missing"},
	})
	assert.Equal(t, "Step 1 [ok] CLICK #go: click go\nStep 2 [FAILED] ASSERT #msg: see message (error: missing)\n", out)
}

func TestFlowContext(t *testing.T) {
	f := flow("q", 1, "/order/list")
	f.FlowName = "Query Order"
	f.Description = "Search orders"
	f.StepsHint = "Filter by status"

	out := FlowContext(f)
	require.Contains(t, out, "Module: Sales Order\n")
	assert.Contains(t, out, "Flow: Query Order\n")
	assert.Contains(t, out, "Description: Search orders\n")
	assert.Contains(t, out, "Route: /order/list\n")
	assert.Contains(t, out, "Steps hint: Filter by status\n")
}
