package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	goteamsnotify "github.com/atc0005/go-teams-notify/v2"
	"github.com/atc0005/go-teams-notify/v2/adaptivecard"
)

const maxBugsInNotification = 10

// TeamsSink posts a summary of every finished run to a Microsoft Teams webhook
type TeamsSink struct {
	client     *goteamsnotify.TeamsClient
	webhookURL string
	onlyFailed bool
	logger     *utils.Logger
}

// NewTeamsSink creates a Teams sink; onlyFailed suppresses notifications for passed runs
func NewTeamsSink(webhookURL string, onlyFailed bool, logger *utils.Logger) *TeamsSink {
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &TeamsSink{
		client:     goteamsnotify.NewTeamsClient(),
		webhookURL: webhookURL,
		onlyFailed: onlyFailed,
		logger:     logger.WithSource("teams_sink"),
	}
}

// Name implements ResultSink
func (t *TeamsSink) Name() string { return "teams" }

// Deliver implements ResultSink
func (t *TeamsSink) Deliver(ctx context.Context, result *models.E2ETestResult) error {
	if t.webhookURL == "" {
		return errors.New("teams webhook url is not configured")
	}
	if t.onlyFailed && result.Status == models.RunPassed {
		return nil
	}

	msg, err := adaptivecard.NewSimpleMessage(RenderRunNotification(result), NotificationTitle(result), true)
	if err != nil {
		return fmt.Errorf("build teams message: %w", err)
	}
	if err := t.client.SendWithContext(ctx, t.webhookURL, msg); err != nil {
		return fmt.Errorf("send teams message: %w", err)
	}

	t.logger.Info("Run notification sent", map[string]interface{}{
		"run_id": result.RunID,
		"status": string(result.Status),
	})
	return nil
}

// NotificationTitle is the one-line headline of a run notification
func NotificationTitle(result *models.E2ETestResult) string {
	return fmt.Sprintf("E2E run %s: %s", result.RunID, result.Status)
}

// RenderRunNotification renders the run summary and its bugs as plain text
func RenderRunNotification(result *models.E2ETestResult) string {
	var b strings.Builder
	b.WriteString(result.Summary)
	if result.AppURL != "" {
		fmt.Fprintf(&b, "\n\nApplication: %s", result.AppURL)
	}
	fmt.Fprintf(&b, "\nSteps: %d passed, %d failed, %d total", result.PassedSteps, result.FailedSteps, result.TotalSteps)
	if result.DurationMs > 0 {
		fmt.Fprintf(&b, "\nDuration: %.1fs", float64(result.DurationMs)/1000)
	}

	if len(result.Bugs) == 0 {
		return b.String()
	}
	b.WriteString("\n\nBugs:")
	for i, bug := range result.Bugs {
		if i == maxBugsInNotification {
			fmt.Fprintf(&b, "\n- ... and %d more", len(result.Bugs)-maxBugsInNotification)
			break
		}
		fmt.Fprintf(&b, "\n- [%s] %s (flow %s, step %d)", bug.Severity, bug.Title, bug.FlowID, bug.StepNumber)
	}
	return b.String()
}
