package models

import "time"

// E2ERunRequest starts a run against the staging application
type E2ERunRequest struct {
	AppURL         string   `json:"appUrl" validate:"omitempty,url"`
	AppDescription string   `json:"appDescription" validate:"max=4000"`
	MaxSteps       int      `json:"maxSteps" validate:"gte=0,lte=200"`
	TimeoutSeconds int      `json:"timeoutSeconds" validate:"gte=0,lte=7200"`
	ModuleIDs      []string `json:"moduleIds" validate:"omitempty,dive,required"`
	BuildNumber    string   `json:"buildNumber"`
	Branch         string   `json:"branch"`
	TriggeredBy    string   `json:"triggeredBy"`
}

// ManualPushRequest simulates a push with an explicit file list
type ManualPushRequest struct {
	ChangedFiles []string `json:"changedFiles" validate:"omitempty,dive,required"`
	GitDiff      string   `json:"gitDiff"`
	Branch       string   `json:"branch"`
	BuildNumber  string   `json:"buildNumber"`
}

// DeploymentEvent is posted when a staging deployment finishes
type DeploymentEvent struct {
	BuildNumber string `json:"buildNumber" validate:"required"`
	Branch      string `json:"branch"`
	Status      string `json:"status"`
}

// Succeeded reports whether the deployment finished successfully
func (e DeploymentEvent) Succeeded() bool {
	switch e.Status {
	case "", "succeeded", "success", "SUCCEEDED", "SUCCESS":
		return true
	default:
		return false
	}
}

// PushEvent is the subset of a git push service hook payload that is read
type PushEvent struct {
	EventType string `json:"eventType"`
	Resource  struct {
		RefUpdates []struct {
			Name string `json:"name"`
		} `json:"refUpdates"`
		Commits []struct {
			CommitID string `json:"commitId"`
			Comment  string `json:"comment"`
			Changes  []struct {
				ChangeType string `json:"changeType"`
				Item       struct {
					Path string `json:"path"`
				} `json:"item"`
			} `json:"changes"`
		} `json:"commits"`
		Repository struct {
			Name string `json:"name"`
		} `json:"repository"`
		PushedBy struct {
			DisplayName string `json:"displayName"`
		} `json:"pushedBy"`
	} `json:"resource"`
}

// RunAccepted is returned when an asynchronous run was started
type RunAccepted struct {
	RunID string     `json:"runId"`
	Scope *TestScope `json:"scope"`
}

// ScopeAnalysis is the dry-run answer of change analysis plus resolution
type ScopeAnalysis struct {
	ChangedFiles      []string   `json:"changedFiles"`
	AffectedModuleIDs []string   `json:"affectedModuleIds"`
	Scope             *TestScope `json:"scope"`
}

// RunSummary is the list view of a run
type RunSummary struct {
	RunID       string      `json:"runId"`
	Status      RunStatus   `json:"status"`
	Trigger     TriggerInfo `json:"trigger"`
	StartTime   time.Time   `json:"startTime"`
	TotalSteps  int         `json:"totalSteps"`
	FailedSteps int         `json:"failedSteps"`
	BugCount    int         `json:"bugCount"`
	Summary     string      `json:"summary"`
}

// Summarize returns the list view of a result
func (r *E2ETestResult) Summarize() RunSummary {
	return RunSummary{
		RunID:       r.RunID,
		Status:      r.Status,
		Trigger:     r.Trigger,
		StartTime:   r.StartTime,
		TotalSteps:  r.TotalSteps,
		FailedSteps: r.FailedSteps,
		BugCount:    len(r.Bugs),
		Summary:     r.Summary,
	}
}

// ActiveRun describes a run that has not finished yet
type ActiveRun struct {
	RunID       string      `json:"runId"`
	Trigger     TriggerInfo `json:"trigger"`
	StartTime   time.Time   `json:"startTime"`
	FlowCount   int         `json:"flowCount"`
	ModuleNames []string    `json:"moduleNames"`
}

// RunStats counts runs since the process started
type RunStats struct {
	Active    int `json:"active"`
	Capacity  int `json:"capacity"`
	Completed int `json:"completed"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Errored   int `json:"errored"`
	TimedOut  int `json:"timedOut"`
	Rejected  int `json:"rejected"`
	Cached    int `json:"cached"`
}

// WebhookSkipped answers a webhook that was accepted but did not start a run
type WebhookSkipped struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason"`
}
