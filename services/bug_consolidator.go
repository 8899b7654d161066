package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
)

const defaultAnalysisTimeout = 60 * time.Second

// BugConsolidator turns the failed steps of one flow into a single bug
type BugConsolidator struct {
	analyzer BugAnalyzer
	timeout  time.Duration
	logger   *utils.Logger
}

// NewBugConsolidator creates a consolidator; a nil analyzer always uses the templated description
func NewBugConsolidator(analyzer BugAnalyzer, timeout time.Duration, logger *utils.Logger) *BugConsolidator {
	if timeout <= 0 {
		timeout = defaultAnalysisTimeout
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &BugConsolidator{
		analyzer: analyzer,
		timeout:  timeout,
		logger:   logger.WithSource("bug_consolidator"),
	}
}

// Consolidate builds exactly one bug for a flow from all its steps and the failed subset.
// It never fails: any analyzer problem falls back to a templated description.
func (c *BugConsolidator) Consolidate(ctx context.Context, flow models.ResolvedTestFlow, steps, failed []*models.TestStep, pageURL string, consoleErrors []string) *models.BugFound {
	fallback := fallbackAnalysis(flow, steps, failed)

	analysis, fromAI := c.analyze(ctx, flow, steps, failed)
	if analysis == nil {
		analysis = fallback
	} else {
		fillMissing(analysis, fallback)
	}

	bug := &models.BugFound{
		Title:           analysis.Title,
		Summary:         analysis.Summary,
		TechnicalDetail: analysis.TechnicalDetail,
		Impact:          analysis.Impact,
		SuggestedFix:    analysis.SuggestedFix,
		Severity:        DetermineSeverity(failed),
		PageURL:         pageURL,
		ConsoleErrors:   strings.Join(consoleErrors, "\n"),
		FlowID:          flow.FlowID,
		FlowName:        flow.FlowName,
		ModuleID:        flow.ModuleID,
		ModuleName:      flow.ModuleName,
		FailedStepCount: len(failed),
		AIGenerated:     fromAI,
	}
	bug.Description = composeDescription(analysis)

	if len(failed) > 0 {
		first := failed[0]
		bug.StepNumber = first.StepNumber
		bug.ExpectedBehavior = first.Description
		bug.ActualBehavior = first.ErrorMessage
	}
	for _, step := range failed {
		if len(step.Screenshot) > 0 {
			bug.Screenshot = step.Screenshot
			bug.HasScreenshot = true
			break
		}
	}

	c.logger.Info("Flow failures consolidated", map[string]interface{}{
		"flow_id":      flow.FlowID,
		"failed_steps": len(failed),
		"severity":     string(bug.Severity),
		"ai_generated": fromAI,
	})
	return bug
}

// analyze asks the analyzer for a description, absorbing errors and panics
func (c *BugConsolidator) analyze(ctx context.Context, flow models.ResolvedTestFlow, steps, failed []*models.TestStep) (analysis *BugAnalysis, ok bool) {
	if c.analyzer == nil {
		return nil, false
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Bug analyzer panicked, using templated description", fmt.Errorf("%v", r), map[string]interface{}{
				"flow_id": flow.FlowID,
			})
			analysis, ok = nil, false
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, err := c.analyzer.AnalyzeBug(ctx, BugAnalysisRequest{
		FlowContext:       FlowContext(flow),
		AllStepsSummary:   SummarizeSteps(steps),
		FailedStepsDetail: DescribeFailedSteps(failed),
	})
	if err != nil {
		c.logger.Warn("Bug analysis failed, using templated description", map[string]interface{}{
			"flow_id": flow.FlowID,
			"error":   err.Error(),
		})
		return nil, false
	}
	if result == nil || (strings.TrimSpace(result.Title) == "" && strings.TrimSpace(result.Summary) == "") {
		c.logger.Warn("Bug analysis returned no usable fields, using templated description", map[string]interface{}{
			"flow_id": flow.FlowID,
		})
		return nil, false
	}
	return result, true
}

// DetermineSeverity returns the most severe failure severity among the steps
func DetermineSeverity(failed []*models.TestStep) models.Severity {
	severity := models.SeverityLow
	for _, step := range failed {
		if s := step.Action.FailureSeverity(); s.Rank() > severity.Rank() {
			severity = s
		}
	}
	return severity
}

// FlowContext describes a flow for the AI collaborators
func FlowContext(flow models.ResolvedTestFlow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s\n", flow.ModuleName)
	fmt.Fprintf(&b, "Flow: %s\n", flow.FlowName)
	if flow.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", flow.Description)
	}
	fmt.Fprintf(&b, "Route: %s\n", flow.Route)
	if flow.StepsHint != "" {
		fmt.Fprintf(&b, "Steps hint: %s\n", flow.StepsHint)
	}
	return b.String()
}

// SummarizeSteps lists every step of a flow with its outcome
func SummarizeSteps(steps []*models.TestStep) string {
	var b strings.Builder
	for _, step := range steps {
		mark := "ok"
		if step.Status == models.StepFailed {
			mark = "FAILED"
		}
		fmt.Fprintf(&b, "Step %d [%s] %s %s: %s", step.StepNumber, mark, step.Action, step.Target, step.Description)
		if step.ErrorMessage != "" {
			fmt.Fprintf(&b, " (error: %s)", step.ErrorMessage)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DescribeFailedSteps details each failed step
func DescribeFailedSteps(failed []*models.TestStep) string {
	var b strings.Builder
	for _, step := range failed {
		fmt.Fprintf(&b, "Step %d\n", step.StepNumber)
		fmt.Fprintf(&b, "  action: %s\n", step.Action)
		fmt.Fprintf(&b, "  description: %s\n", step.Description)
		if step.Target != "" {
			fmt.Fprintf(&b, "  target: %s\n", step.Target)
		}
		if step.Value != "" {
			fmt.Fprintf(&b, "  value: %s\n", step.Value)
		}
		fmt.Fprintf(&b, "  error: %s\n", step.ErrorMessage)
	}
	return b.String()
}

func fallbackAnalysis(flow models.ResolvedTestFlow, steps, failed []*models.TestStep) *BugAnalysis {
	route := flow.Route
	if route == "" {
		route = "/"
	}
	return &BugAnalysis{
		Title: flow.FlowName + " test failed",
		Summary: fmt.Sprintf("%d of %d steps failed in the %q flow of module %s.",
			len(failed), len(steps), flow.FlowName, flow.ModuleName),
		TechnicalDetail: DescribeFailedSteps(failed),
		Impact:          fmt.Sprintf("Users may be unable to complete %q (%s).", flow.FlowName, route),
		SuggestedFix:    fmt.Sprintf("Check the code serving route %s, starting from the first failed step.", route),
	}
}

func fillMissing(a, fallback *BugAnalysis) {
	fill := func(field *string, value string) {
		if strings.TrimSpace(*field) == "" {
			*field = value
		}
	}
	fill(&a.Title, fallback.Title)
	fill(&a.Summary, fallback.Summary)
	fill(&a.TechnicalDetail, fallback.TechnicalDetail)
	fill(&a.Impact, fallback.Impact)
	fill(&a.SuggestedFix, fallback.SuggestedFix)
}

func composeDescription(a *BugAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Summary\n%s\n\n", a.Summary)
	fmt.Fprintf(&b, "## Impact\n%s\n\n", a.Impact)
	fmt.Fprintf(&b, "## Technical detail\n%s\n\n", strings.TrimRight(a.TechnicalDetail, "\n"))
	fmt.Fprintf(&b, "## Suggested fix\n%s\n", a.SuggestedFix)
	return b.String()
}
