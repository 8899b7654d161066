package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/models"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSession executes steps by looking up their target in failTargets
type fakeSession struct {
	mu          sync.Mutex
	clock       *fakeClock
	stepCost    time.Duration
	failTargets map[string]string
	navErrors   map[string]error
	loginErr    error
	panicOn     string
	block       chan struct{}
	entered     chan struct{}
	screenshot  []byte
	consoleErrs []string

	navigated []string
	executed  []models.TestStep
	loggedIn  bool
	closed    bool
}

func (s *fakeSession) Execute(_ context.Context, step models.TestStep) models.TestStep {
	if s.entered != nil {
		select {
		case s.entered <- struct{}{}:
		default:
		}
	}
	if s.block != nil {
		<-s.block
	}
	if s.panicOn != "" && step.Target == s.panicOn {
		panic("selector engine crashed")
	}
	if s.clock != nil {
		s.clock.Advance(s.stepCost)
	}

	step.DurationMs = s.stepCost.Milliseconds()
	step.Screenshot = s.screenshot
	if msg, ok := s.failTargets[step.Target]; ok {
		step.Status = models.StepFailed
		step.ErrorMessage = msg
	} else {
		step.Status = models.StepPassed
	}

	s.mu.Lock()
	s.executed = append(s.executed, step)
	s.mu.Unlock()
	return step
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return s.navErrors[url]
}

func (s *fakeSession) Login(context.Context, string, models.ResolvedLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loginErr != nil {
		return s.loginErr
	}
	s.loggedIn = true
	return nil
}

func (s *fakeSession) PageSnapshot(context.Context) (string, error) {
	return "Title: Test page", nil
}

func (s *fakeSession) CurrentURL(context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.navigated) == 0 {
		return ""
	}
	return s.navigated[len(s.navigated)-1]
}

func (s *fakeSession) ConsoleErrors() []string { return s.consoleErrs }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// blockingSession holds every step until block is closed
func blockingSession() *fakeSession {
	return &fakeSession{block: make(chan struct{}), entered: make(chan struct{}, 1)}
}

func waitEntered(t *testing.T, s *fakeSession) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("no step started")
	}
}

func launcherFor(session *fakeSession) BrowserLauncher {
	return LauncherFunc(func(context.Context) (BrowserSession, error) {
		return session, nil
	})
}

// fakePlanner answers from a per-route plan table
type fakePlanner struct {
	mu       sync.Mutex
	plans    map[string][]models.TestStep
	err      error
	requests []PlanRequest
}

func (p *fakePlanner) PlanSteps(_ context.Context, req PlanRequest) ([]models.TestStep, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	for route, steps := range p.plans {
		if strings.HasSuffix(req.PageURL, route) {
			return append([]models.TestStep(nil), steps...), nil
		}
	}
	return nil, nil
}

// fakeAnalyzer returns a fixed analysis, error, or panics
type fakeAnalyzer struct {
	analysis *BugAnalysis
	err      error
	panics   bool
	calls    int
}

func (a *fakeAnalyzer) AnalyzeBug(context.Context, BugAnalysisRequest) (*BugAnalysis, error) {
	a.calls++
	if a.panics {
		panic("analyzer exploded")
	}
	return a.analysis, a.err
}

// recordingBroadcaster keeps every progress message
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []string
}

func (b *recordingBroadcaster) BroadcastToAll(msgType string, _ interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msgType)
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}

func steps(targets ...string) []models.TestStep {
	out := make([]models.TestStep, 0, len(targets))
	for _, target := range targets {
		action := models.ActionAssert
		if strings.HasPrefix(target, "#btn") {
			action = models.ActionClick
		}
		out = append(out, models.TestStep{Action: action, Target: target, Description: "check " + target})
	}
	return out
}

func flow(id string, priority int, route string) models.ResolvedTestFlow {
	return models.ResolvedTestFlow{
		FlowID:       id,
		FlowName:     id,
		Route:        route,
		Priority:     priority,
		ModuleID:     "order",
		ModuleName:   "Sales Order",
		RequiredRole: models.RoleAdmin,
	}
}

func scopeOf(flows ...models.ResolvedTestFlow) *models.TestScope {
	return &models.TestScope{
		TriggerType:       models.TriggerPush,
		TestFlows:         flows,
		AffectedModuleIDs: []string{"order"},
		ModuleNames:       []string{"Sales Order"},
		Role:              models.RoleAdmin,
		Login:             models.ResolvedLogin{URL: "/login", Role: models.RoleAdmin, Username: "admin"},
		TotalFlows:        len(flows),
	}
}

var errBoom = errors.New("boom")
