package models

import (
	"fmt"
	"strings"
	"time"
)

// Action is the kind of browser interaction a step performs
type Action string

const (
	ActionNavigate   Action = "NAVIGATE"
	ActionClick      Action = "CLICK"
	ActionType       Action = "TYPE"
	ActionSelect     Action = "SELECT"
	ActionAssert     Action = "ASSERT"
	ActionWait       Action = "WAIT"
	ActionScreenshot Action = "SCREENSHOT"
)

// Actions lists every supported action in declaration order
var Actions = []Action{
	ActionNavigate, ActionClick, ActionType, ActionSelect,
	ActionAssert, ActionWait, ActionScreenshot,
}

// ParseAction converts free text (any case) into an Action
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	switch a {
	case ActionNavigate, ActionClick, ActionType, ActionSelect,
		ActionAssert, ActionWait, ActionScreenshot:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// FailureSeverity returns the severity of a failed step with this action
func (a Action) FailureSeverity() Severity {
	switch a {
	case ActionClick, ActionNavigate:
		return SeverityHigh
	case ActionType, ActionSelect, ActionAssert, ActionWait:
		return SeverityMedium
	case ActionScreenshot:
		return SeverityLow
	default:
		return SeverityLow
	}
}

// StepStatus is the lifecycle state of a single step
type StepStatus string

const (
	StepPlanned StepStatus = "PLANNED"
	StepRunning StepStatus = "RUNNING"
	StepPassed  StepStatus = "PASSED"
	StepFailed  StepStatus = "FAILED"
	StepSkipped StepStatus = "SKIPPED"
)

// IsTerminal reports whether the step has finished
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepPassed, StepFailed, StepSkipped:
		return true
	case StepPlanned, StepRunning:
		return false
	default:
		return false
	}
}

// RunStatus is the state of a whole test run
type RunStatus string

const (
	RunRunning RunStatus = "RUNNING"
	RunPassed  RunStatus = "PASSED"
	RunFailed  RunStatus = "FAILED"
	RunError   RunStatus = "ERROR"
	RunTimeout RunStatus = "TIMEOUT"
)

// IsTerminal reports whether the run has reached a final state
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunPassed, RunFailed, RunError, RunTimeout:
		return true
	case RunRunning:
		return false
	default:
		return false
	}
}

// Severity ranks a bug
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities, higher is more severe
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// TriggerType is the origin of a run
type TriggerType string

const (
	TriggerPush       TriggerType = "push"
	TriggerDeployment TriggerType = "deployment"
	TriggerSmoke      TriggerType = "smoke"
	TriggerManual     TriggerType = "manual"
)

// TestStep is one planned and executed browser interaction
type TestStep struct {
	StepNumber   int        `json:"stepNumber"`
	Action       Action     `json:"action"`
	Target       string     `json:"target,omitempty"`
	Value        string     `json:"value,omitempty"`
	Description  string     `json:"description"`
	Status       StepStatus `json:"status"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	DurationMs   int64      `json:"durationMs"`
	Screenshot   []byte     `json:"-"`
	FlowID       string     `json:"flowId,omitempty"`
}

// ReleaseScreenshot drops the step's screenshot bytes
func (s *TestStep) ReleaseScreenshot() {
	s.Screenshot = nil
}

// BugFound is the consolidated defect report for one failing flow
type BugFound struct {
	Title            string   `json:"title"`
	Summary          string   `json:"summary"`
	TechnicalDetail  string   `json:"technicalDetail"`
	Impact           string   `json:"impact"`
	SuggestedFix     string   `json:"suggestedFix"`
	Description      string   `json:"description"`
	Severity         Severity `json:"severity"`
	StepNumber       int      `json:"stepNumber"`
	Screenshot       []byte   `json:"-"`
	HasScreenshot    bool     `json:"hasScreenshot"`
	PageURL          string   `json:"pageUrl,omitempty"`
	ConsoleErrors    string   `json:"consoleErrors,omitempty"`
	ExpectedBehavior string   `json:"expectedBehavior,omitempty"`
	ActualBehavior   string   `json:"actualBehavior,omitempty"`
	FlowID           string   `json:"flowId"`
	FlowName         string   `json:"flowName"`
	ModuleID         string   `json:"moduleId"`
	ModuleName       string   `json:"moduleName"`
	FailedStepCount  int      `json:"failedStepCount"`
	AIGenerated      bool     `json:"aiGenerated"`

	// Populated by downstream ticketing, never by the orchestrator.
	WorkItemID    int    `json:"workItemId,omitempty"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

// TriggerInfo describes what started a run
type TriggerInfo struct {
	Type        TriggerType `json:"type"`
	BuildNumber string      `json:"buildNumber,omitempty"`
	Branch      string      `json:"branch,omitempty"`
	TriggeredBy string      `json:"triggeredBy,omitempty"`
}

// E2ETestResult is the outcome of one run
type E2ETestResult struct {
	RunID          string      `json:"runId"`
	AppURL         string      `json:"appUrl"`
	AppDescription string      `json:"appDescription,omitempty"`
	StartTime      time.Time   `json:"startTime"`
	EndTime        *time.Time  `json:"endTime,omitempty"`
	DurationMs     int64       `json:"durationMs"`
	Steps          []*TestStep `json:"steps"`
	Bugs           []*BugFound `json:"bugs"`
	TotalSteps     int         `json:"totalSteps"`
	PassedSteps    int         `json:"passedSteps"`
	FailedSteps    int         `json:"failedSteps"`
	Status         RunStatus   `json:"status"`
	Summary        string      `json:"summary"`
	Trigger        TriggerInfo `json:"trigger"`
	ModuleNames    []string    `json:"moduleNames,omitempty"`
	FlowCount      int         `json:"flowCount"`
}

// NewE2ETestResult creates a result in the RUNNING state
func NewE2ETestResult(runID, appURL, appDescription string, trigger TriggerInfo, start time.Time) *E2ETestResult {
	return &E2ETestResult{
		RunID:          runID,
		AppURL:         appURL,
		AppDescription: appDescription,
		StartTime:      start,
		Steps:          []*TestStep{},
		Bugs:           []*BugFound{},
		Status:         RunRunning,
		Trigger:        trigger,
	}
}

// NextStepNumber returns the number the next executed step receives
func (r *E2ETestResult) NextStepNumber() int {
	return r.TotalSteps + 1
}

// RecordStep appends an executed step and updates the counters
func (r *E2ETestResult) RecordStep(step *TestStep) {
	r.Steps = append(r.Steps, step)
	r.TotalSteps++
	switch step.Status {
	case StepPassed:
		r.PassedSteps++
		step.ReleaseScreenshot()
	case StepFailed:
		r.FailedSteps++
	case StepSkipped, StepPlanned, StepRunning:
	}
}

// Finish sets the terminal state once; later calls are ignored
func (r *E2ETestResult) Finish(status RunStatus, summary string, end time.Time) bool {
	if r.Status.IsTerminal() {
		return false
	}
	r.Status = status
	r.Summary = summary
	r.EndTime = &end
	r.DurationMs = end.Sub(r.StartTime).Milliseconds()
	return true
}
