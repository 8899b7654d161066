package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/google/uuid"
)

const (
	defaultRunTimeout  = 300 * time.Second
	defaultMaxSteps    = 30
	defaultFlowStepCap = 15
)

// ErrLoginFailed marks a failed login, which ends a run before any flow
var ErrLoginFailed = errors.New("login failed")

// OrchestratorConfig holds run defaults
type OrchestratorConfig struct {
	DefaultTimeout  time.Duration
	DefaultMaxSteps int
	FlowStepCap     int
}

// RunRequest is the entry contract of one orchestrated run
type RunRequest struct {
	RunID          string
	AppURL         string
	AppDescription string
	Timeout        time.Duration
	MaxSteps       int
	Trigger        models.TriggerInfo
}

// Orchestrator drives one scoped run: login, then plan and execute each flow in order
type Orchestrator struct {
	launcher     BrowserLauncher
	planner      StepPlanner
	consolidator *BugConsolidator
	reporter     WebSocketBroadcaster
	cfg          OrchestratorConfig
	logger       *utils.Logger
	now          func() time.Time
}

// NewOrchestrator creates an orchestrator; reporter may be nil
func NewOrchestrator(launcher BrowserLauncher, planner StepPlanner, consolidator *BugConsolidator, reporter WebSocketBroadcaster, cfg OrchestratorConfig, logger *utils.Logger) *Orchestrator {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultRunTimeout
	}
	if cfg.DefaultMaxSteps <= 0 {
		cfg.DefaultMaxSteps = defaultMaxSteps
	}
	if cfg.FlowStepCap <= 0 {
		cfg.FlowStepCap = defaultFlowStepCap
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if consolidator == nil {
		consolidator = NewBugConsolidator(nil, 0, logger)
	}
	return &Orchestrator{
		launcher:     launcher,
		planner:      planner,
		consolidator: consolidator,
		reporter:     reporter,
		cfg:          cfg,
		logger:       logger.WithSource("orchestrator"),
		now:          time.Now,
	}
}

// NewRunID returns a short run identifier
func NewRunID() string {
	return uuid.New().String()[:8]
}

// run carries the per-run mutable state through the state machine
type run struct {
	req      RunRequest
	scope    *models.TestScope
	result   *models.E2ETestResult
	deadline time.Time
	maxSteps int
	session  BrowserSession
	logger   *utils.Logger
}

// Run executes the scope and always returns a result in a terminal state
func (o *Orchestrator) Run(ctx context.Context, req RunRequest, scope *models.TestScope) (result *models.E2ETestResult) {
	start := o.now()
	if req.RunID == "" {
		req.RunID = NewRunID()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = o.cfg.DefaultMaxSteps
	}
	trigger := req.Trigger
	if trigger.Type == "" && scope != nil {
		trigger.Type = scope.TriggerType
	}

	result = models.NewE2ETestResult(req.RunID, req.AppURL, req.AppDescription, trigger, start)
	r := &run{
		req:      req,
		scope:    scope,
		result:   result,
		deadline: start.Add(timeout),
		maxSteps: maxSteps,
		logger:   o.logger.WithContext(map[string]interface{}{"run_id": req.RunID}),
	}
	if scope != nil {
		result.ModuleNames = scope.ModuleNames
		result.FlowCount = len(scope.TestFlows)
	}

	r.logger.Info("Run started", map[string]interface{}{
		"app_url":  req.AppURL,
		"trigger":  string(trigger.Type),
		"flows":    result.FlowCount,
		"timeout":  timeout.String(),
		"deadline": r.deadline,
	})
	o.report(models.WSRunStarted, models.RunProgress{RunID: req.RunID, Status: models.RunRunning})

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Run panicked", fmt.Errorf("%v", p))
			result.Finish(models.RunError, fmt.Sprintf("test execution error: %v", p), o.now())
		}
		r.logger.Info("Run finished", map[string]interface{}{
			"status":       string(result.Status),
			"total_steps":  result.TotalSteps,
			"failed_steps": result.FailedSteps,
			"bugs":         len(result.Bugs),
			"duration_ms":  result.DurationMs,
		})
		o.report(models.WSRunCompleted, models.RunProgress{
			RunID:   req.RunID,
			Status:  result.Status,
			Message: result.Summary,
		})
	}()

	if err := o.execute(ctx, r); err != nil {
		summary := "test execution error: " + err.Error()
		if errors.Is(err, ErrLoginFailed) {
			summary = err.Error()
		}
		r.logger.Error("Run aborted", err)
		result.Finish(models.RunError, summary, o.now())
	}
	return result
}

// execute opens the session, logs in and runs the flows; returned errors end the run as ERROR
func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if r.scope == nil || len(r.scope.TestFlows) == 0 {
		return errors.New("test scope has no flows")
	}
	if o.launcher == nil || o.planner == nil {
		return errors.New("orchestrator is missing a browser launcher or step planner")
	}

	session, err := o.launcher.NewSession(ctx)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	r.session = session
	defer func() {
		if err := session.Close(); err != nil {
			r.logger.Warn("Browser session close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	if r.scope.Login.URL != "" {
		if err := session.Login(ctx, r.req.AppURL, r.scope.Login); err != nil {
			return fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}
		r.logger.Info("Logged in", map[string]interface{}{"role": r.scope.Login.Role})
	}

	stop := o.runFlows(ctx, r)
	end := o.now()

	status := stop
	if status == "" {
		status = models.RunPassed
		if r.result.FailedSteps > 0 {
			status = models.RunFailed
		}
	}
	r.result.Finish(status, o.summarize(r, status), end)
	return nil
}

// runFlows walks the flows in scope order; it returns a terminal status when the run must stop early
func (o *Orchestrator) runFlows(ctx context.Context, r *run) models.RunStatus {
	for _, flow := range r.scope.TestFlows {
		if stop := o.checkpoint(ctx, r); stop != "" {
			r.logger.Warn("Run stopped before flow", map[string]interface{}{
				"flow_id": flow.FlowID,
				"reason":  string(stop),
			})
			return stop
		}
		if stop := o.runFlow(ctx, r, flow); stop != "" {
			return stop
		}
	}
	return ""
}

// runFlow navigates, plans, executes and consolidates one flow
func (o *Orchestrator) runFlow(ctx context.Context, r *run, flow models.ResolvedTestFlow) models.RunStatus {
	log := r.logger.WithContext(map[string]interface{}{"flow_id": flow.FlowID})
	flowURL := joinURL(r.req.AppURL, flow.Route)
	log.Info("Flow started", map[string]interface{}{"url": flowURL, "module": flow.ModuleName})
	o.report(models.WSFlowStarted, models.RunProgress{
		RunID:    r.result.RunID,
		FlowID:   flow.FlowID,
		FlowName: flow.FlowName,
		Status:   models.RunRunning,
	})

	var flowSteps []*models.TestStep

	if err := r.session.Navigate(ctx, flowURL); err != nil {
		// the page itself is unreachable; record it as evidence for this flow
		step := &models.TestStep{
			StepNumber:   r.result.NextStepNumber(),
			Action:       models.ActionNavigate,
			Target:       flowURL,
			Description:  "Open " + flow.FlowName,
			Status:       models.StepFailed,
			ErrorMessage: err.Error(),
			FlowID:       flow.FlowID,
		}
		o.record(r, step)
		o.consolidate(ctx, r, flow, []*models.TestStep{step})
		return ""
	}

	snapshot, err := r.session.PageSnapshot(ctx)
	if err != nil {
		log.Warn("Page snapshot unavailable", map[string]interface{}{"error": err.Error()})
	}

	budget := o.stepBudget(r, flow)
	planned, err := o.planner.PlanSteps(ctx, PlanRequest{
		PageURL:          flowURL,
		FlowContext:      FlowContext(flow) + "The session is already logged in, do not plan login steps.\n",
		ScopeDescription: r.scope.ScopeDescription,
		PageSnapshot:     snapshot,
		StepBudget:       budget,
		Exploratory:      flow.FlowID == WholeAppFlowID,
	})
	if err != nil {
		log.Warn("Step planning failed, skipping flow", map[string]interface{}{"error": err.Error()})
		return ""
	}
	if len(planned) == 0 {
		log.Warn("Planner returned no steps, skipping flow")
		return ""
	}
	if len(planned) > budget {
		planned = planned[:budget]
	}

	var stop models.RunStatus
	for _, p := range planned {
		if stop = o.checkpoint(ctx, r); stop != "" {
			log.Warn("Run stopped between steps", map[string]interface{}{"reason": string(stop)})
			break
		}

		p.StepNumber = r.result.NextStepNumber()
		p.FlowID = flow.FlowID
		p.Status = models.StepPlanned

		executed := r.session.Execute(ctx, p)
		executed.StepNumber = p.StepNumber
		executed.FlowID = flow.FlowID
		if !executed.Status.IsTerminal() {
			executed.Status = models.StepFailed
			if executed.ErrorMessage == "" {
				executed.ErrorMessage = "step did not reach a final status"
			}
		}

		step := executed
		o.record(r, &step)
		flowSteps = append(flowSteps, &step)
	}

	o.consolidate(ctx, r, flow, flowSteps)
	return stop
}

// record appends a step to the result and reports it
func (o *Orchestrator) record(r *run, step *models.TestStep) {
	r.result.RecordStep(step)
	o.report(models.WSStepCompleted, models.RunProgress{
		RunID:      r.result.RunID,
		FlowID:     step.FlowID,
		StepNumber: step.StepNumber,
		Action:     step.Action,
		StepStatus: step.Status,
		Status:     models.RunRunning,
		Message:    step.Description,
	})
}

// consolidate produces one bug when the flow has failed steps, then releases their screenshots
func (o *Orchestrator) consolidate(ctx context.Context, r *run, flow models.ResolvedTestFlow, flowSteps []*models.TestStep) {
	var failed []*models.TestStep
	for _, s := range flowSteps {
		if s.Status == models.StepFailed {
			failed = append(failed, s)
		}
	}
	if len(failed) == 0 {
		return
	}

	bug := o.consolidator.Consolidate(ctx, flow, flowSteps, failed, r.session.CurrentURL(ctx), r.session.ConsoleErrors())
	r.result.Bugs = append(r.result.Bugs, bug)
	for _, s := range failed {
		s.ReleaseScreenshot()
	}
}

// checkpoint reports the terminal status the run must stop with, or "" to continue
func (o *Orchestrator) checkpoint(ctx context.Context, r *run) models.RunStatus {
	if ctx.Err() != nil {
		return models.RunError
	}
	if o.now().After(r.deadline) {
		return models.RunTimeout
	}
	return ""
}

func (o *Orchestrator) stepBudget(r *run, flow models.ResolvedTestFlow) int {
	if flow.MaxSteps > 0 {
		return min(flow.MaxSteps, r.maxSteps)
	}
	return min(o.cfg.FlowStepCap, r.maxSteps)
}

// summarize renders totals, trigger metadata and affected modules
func (o *Orchestrator) summarize(r *run, status models.RunStatus) string {
	res := r.result
	var b strings.Builder

	switch status {
	case models.RunTimeout:
		fmt.Fprintf(&b, "timed out after %s; ", r.deadline.Sub(res.StartTime))
	case models.RunError:
		b.WriteString("run cancelled; ")
	case models.RunPassed, models.RunFailed, models.RunRunning:
	}

	fmt.Fprintf(&b, "[%s] %d/%d steps passed across %d flow(s), %d bug(s) found",
		res.Trigger.Type, res.PassedSteps, res.TotalSteps, len(r.scope.TestFlows), len(res.Bugs))
	if res.Trigger.BuildNumber != "" {
		fmt.Fprintf(&b, " | build %s", res.Trigger.BuildNumber)
	}
	if res.Trigger.Branch != "" {
		fmt.Fprintf(&b, " | branch %s", res.Trigger.Branch)
	}
	if res.Trigger.TriggeredBy != "" {
		fmt.Fprintf(&b, " | by %s", res.Trigger.TriggeredBy)
	}
	if len(r.scope.ModuleNames) > 0 {
		fmt.Fprintf(&b, " | modules: %s", strings.Join(r.scope.ModuleNames, ", "))
	}
	return b.String()
}

func (o *Orchestrator) report(msgType string, progress models.RunProgress) {
	if o.reporter != nil {
		o.reporter.BroadcastToAll(msgType, progress)
	}
}

// joinURL appends a route to a base URL with exactly one slash between them
func joinURL(base, route string) string {
	if route == "" {
		return base
	}
	if strings.HasPrefix(route, "http://") || strings.HasPrefix(route, "https://") {
		return route
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(route, "/")
}
