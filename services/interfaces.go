package services

import (
	"context"

	"github.com/KBesada24/AI-E2E-Agent/models"
)

// WebSocketBroadcaster interface for broadcasting messages
type WebSocketBroadcaster interface {
	BroadcastToAll(msgType string, data interface{})
}

// PlanRequest is the input of one step-planning call
type PlanRequest struct {
	PageURL          string
	FlowContext      string
	ScopeDescription string
	PageSnapshot     string
	StepBudget       int
	// Exploratory allows a generic plan when the model cannot be reached.
	Exploratory bool
}

// StepPlanner turns a flow and the current page into browser steps.
// An empty plan is a valid answer.
type StepPlanner interface {
	PlanSteps(ctx context.Context, req PlanRequest) ([]models.TestStep, error)
}

// BugAnalysisRequest is the input of one bug-analysis call
type BugAnalysisRequest struct {
	FlowContext       string
	AllStepsSummary   string
	FailedStepsDetail string
}

// BugAnalysis is the structured answer of the bug analyzer
type BugAnalysis struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	TechnicalDetail string `json:"technicalDetail"`
	Impact          string `json:"impact"`
	SuggestedFix    string `json:"suggestedFix"`
}

// BugAnalyzer summarizes the failures of one flow
type BugAnalyzer interface {
	AnalyzeBug(ctx context.Context, req BugAnalysisRequest) (*BugAnalysis, error)
}

// StepExecutor performs one step and reports its outcome on the returned copy.
// Each operation is time bounded by the executor itself.
type StepExecutor interface {
	Execute(ctx context.Context, step models.TestStep) models.TestStep
}

// BrowserSession is one isolated browsing context owned by a single run
type BrowserSession interface {
	StepExecutor
	Navigate(ctx context.Context, url string) error
	Login(ctx context.Context, appURL string, login models.ResolvedLogin) error
	PageSnapshot(ctx context.Context) (string, error)
	CurrentURL(ctx context.Context) string
	ConsoleErrors() []string
	Close() error
}

// BrowserLauncher opens sessions on a shared browser engine
type BrowserLauncher interface {
	NewSession(ctx context.Context) (BrowserSession, error)
}

// LauncherFunc adapts a function to BrowserLauncher
type LauncherFunc func(ctx context.Context) (BrowserSession, error)

// NewSession calls f
func (f LauncherFunc) NewSession(ctx context.Context) (BrowserSession, error) {
	return f(ctx)
}

// ResultSink receives every finished run
type ResultSink interface {
	Name() string
	Deliver(ctx context.Context, result *models.E2ETestResult) error
}
