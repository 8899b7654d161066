package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		input   string
		want    Action
		wantErr bool
	}{
		{input: "CLICK", want: ActionClick},
		{input: " navigate ", want: ActionNavigate},
		{input: "Type", want: ActionType},
		{input: "select", want: ActionSelect},
		{input: "assert", want: ActionAssert},
		{input: "wait", want: ActionWait},
		{input: "screenshot", want: ActionScreenshot},
		{input: "hover", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAction(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActionFailureSeverity(t *testing.T) {
	assert.Equal(t, SeverityHigh, ActionClick.FailureSeverity())
	assert.Equal(t, SeverityHigh, ActionNavigate.FailureSeverity())
	assert.Equal(t, SeverityMedium, ActionType.FailureSeverity())
	assert.Equal(t, SeverityMedium, ActionSelect.FailureSeverity())
	assert.Equal(t, SeverityMedium, ActionAssert.FailureSeverity())
	assert.Equal(t, SeverityMedium, ActionWait.FailureSeverity())
	assert.Equal(t, SeverityLow, ActionScreenshot.FailureSeverity())
	assert.Equal(t, SeverityLow, Action("DRAG").FailureSeverity())
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Equal(t, 0, Severity("CRITICAL").Rank())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, RunRunning.IsTerminal())
	for _, s := range []RunStatus{RunPassed, RunFailed, RunError, RunTimeout} {
		assert.True(t, s.IsTerminal(), s)
	}

	assert.False(t, StepPlanned.IsTerminal())
	assert.False(t, StepRunning.IsTerminal())
	for _, s := range []StepStatus{StepPassed, StepFailed, StepSkipped} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestE2ETestResult_RecordStep(t *testing.T) {
	r := NewE2ETestResult("r1", "https://app", "", TriggerInfo{Type: TriggerManual}, time.Now())
	assert.Equal(t, 1, r.NextStepNumber())

	passed := &TestStep{StepNumber: 1, Status: StepPassed, Screenshot: []byte("a")}
	failed := &TestStep{StepNumber: 2, Status: StepFailed, Screenshot: []byte("b")}
	skipped := &TestStep{StepNumber: 3, Status: StepSkipped}
	r.RecordStep(passed)
	r.RecordStep(failed)
	r.RecordStep(skipped)

	assert.Equal(t, 3, r.TotalSteps)
	assert.Equal(t, 1, r.PassedSteps)
	assert.Equal(t, 1, r.FailedSteps)
	assert.Equal(t, 4, r.NextStepNumber())
	assert.Nil(t, passed.Screenshot, "passing steps drop their screenshot")
	assert.Equal(t, []byte("b"), failed.Screenshot)
}

func TestE2ETestResult_Finish(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	r := NewE2ETestResult("r1", "https://app", "", TriggerInfo{Type: TriggerPush}, start)
	assert.Equal(t, RunRunning, r.Status)
	assert.Nil(t, r.EndTime)

	assert.True(t, r.Finish(RunFailed, "1 bug", start.Add(90*time.Second)))
	assert.False(t, r.Finish(RunPassed, "late", start.Add(time.Hour)))

	assert.Equal(t, RunFailed, r.Status)
	assert.Equal(t, "1 bug", r.Summary)
	assert.Equal(t, int64(90000), r.DurationMs)
	require.NotNil(t, r.EndTime)
	assert.Equal(t, start.Add(90*time.Second), *r.EndTime)
}

func TestE2ETestResult_Summarize(t *testing.T) {
	r := NewE2ETestResult("r1", "https://app", "", TriggerInfo{Type: TriggerDeployment, BuildNumber: "42"}, time.Now())
	r.RecordStep(&TestStep{Status: StepFailed})
	r.Bugs = append(r.Bugs, &BugFound{Title: "broken"})
	r.Finish(RunFailed, "done", time.Now())

	s := r.Summarize()
	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, RunFailed, s.Status)
	assert.Equal(t, "42", s.Trigger.BuildNumber)
	assert.Equal(t, 1, s.TotalSteps)
	assert.Equal(t, 1, s.FailedSteps)
	assert.Equal(t, 1, s.BugCount)
}

func TestJSONOmitsBinaryAndSecrets(t *testing.T) {
	step, err := json.Marshal(TestStep{Action: ActionClick, Screenshot: []byte("png")})
	require.NoError(t, err)
	assert.NotContains(t, string(step), "screenshot")

	login, err := json.Marshal(ResolvedLogin{Username: "admin", Password: "secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(login), "secret")

	bug, err := json.Marshal(BugFound{Title: "t", Screenshot: []byte("png"), HasScreenshot: true})
	require.NoError(t, err)
	assert.Contains(t, string(bug), `"hasScreenshot":true`)
	assert.NotContains(t, string(bug), "cG5n")
}

func TestDeploymentEventSucceeded(t *testing.T) {
	for _, status := range []string{"", "succeeded", "SUCCESS"} {
		assert.True(t, DeploymentEvent{Status: status}.Succeeded(), status)
	}
	for _, status := range []string{"failed", "canceled", "partiallySucceeded"} {
		assert.False(t, DeploymentEvent{Status: status}.Succeeded(), status)
	}
}

func TestLoginCredentialsFor(t *testing.T) {
	l := LoginConfig{
		Username: "admin",
		Password: "pw",
		RoleAccounts: map[string]Credentials{
			"SALES": {Username: "sales", Password: "s"},
			"EMPTY": {},
		},
	}

	assert.Equal(t, Credentials{Username: "sales", Password: "s"}, l.CredentialsFor("SALES"))
	assert.Equal(t, Credentials{Username: "admin", Password: "pw"}, l.CredentialsFor("EMPTY"))
	assert.Equal(t, Credentials{Username: "admin", Password: "pw"}, l.CredentialsFor(RoleAdmin))
}

func TestTestScopeIsSmoke(t *testing.T) {
	assert.True(t, (&TestScope{TriggerType: TriggerSmoke}).IsSmoke())
	assert.False(t, (&TestScope{TriggerType: TriggerPush}).IsSmoke())
}
