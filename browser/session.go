package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const (
	assertTimeout     = 5 * time.Second
	waitTimeout       = 10 * time.Second
	screenshotQuality = 80
	maxConsoleErrors  = 50
	loginPollInterval = 250 * time.Millisecond
)

// Session is one run's isolated browsing context
type Session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	stepTimeout time.Duration
	logger      *utils.Logger
	onClose     func(id string)

	mu            sync.Mutex
	consoleErrors []string
	closed        bool
}

func newSession(ctx context.Context, id string, cancel context.CancelFunc, stepTimeout time.Duration, logger *utils.Logger) *Session {
	s := &Session{
		id:          id,
		ctx:         ctx,
		cancel:      cancel,
		stepTimeout: stepTimeout,
		logger:      logger.WithContext(map[string]interface{}{"session_id": id}),
	}
	chromedp.ListenTarget(ctx, s.onEvent)
	return s
}

// onEvent collects console errors and uncaught exceptions
func (s *Session) onEvent(ev interface{}) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		if ev.Type != runtime.APITypeError {
			return
		}
		parts := make([]string, 0, len(ev.Args))
		for _, arg := range ev.Args {
			if len(arg.Value) > 0 {
				parts = append(parts, strings.Trim(string(arg.Value), `"`))
			} else {
				parts = append(parts, arg.Description)
			}
		}
		s.addConsoleError("console.error: " + strings.Join(parts, " "))
	case *runtime.EventExceptionThrown:
		if ev.ExceptionDetails == nil {
			return
		}
		msg := ev.ExceptionDetails.Text
		if ev.ExceptionDetails.Exception != nil && ev.ExceptionDetails.Exception.Description != "" {
			msg = ev.ExceptionDetails.Exception.Description
		}
		s.addConsoleError("uncaught: " + msg)
	}
}

func (s *Session) addConsoleError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.consoleErrors) < maxConsoleErrors {
		s.consoleErrors = append(s.consoleErrors, msg)
	}
}

// ConsoleErrors returns the errors captured so far
func (s *Session) ConsoleErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.consoleErrors...)
}

// opContext bounds one browser operation by timeout and by the caller's context
func (s *Session) opContext(caller context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Navigate loads a URL and waits for the page load event
func (s *Session) Navigate(ctx context.Context, target string) error {
	opCtx, cancel := s.opContext(ctx, s.stepTimeout*3)
	defer cancel()
	if err := chromedp.Run(opCtx, chromedp.Navigate(target)); err != nil {
		return fmt.Errorf("navigate to %s: %w", target, err)
	}
	return nil
}

// Login fills the login form and waits until the browser leaves the login page
func (s *Session) Login(ctx context.Context, appURL string, login models.ResolvedLogin) error {
	loginURL := login.URL
	if u, err := url.Parse(login.URL); err != nil || !u.IsAbs() {
		loginURL = strings.TrimRight(appURL, "/") + "/" + strings.TrimLeft(login.URL, "/")
	}
	if err := s.Navigate(ctx, loginURL); err != nil {
		return err
	}

	opCtx, cancel := s.opContext(ctx, s.stepTimeout)
	err := chromedp.Run(opCtx,
		chromedp.WaitVisible(login.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(login.UsernameSelector, login.Username, chromedp.ByQuery),
		chromedp.SendKeys(login.PasswordSelector, login.Password, chromedp.ByQuery),
		chromedp.Click(login.SubmitSelector, chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("fill login form: %w", err)
	}

	loginPath := pathOf(login.URL)
	deadline := time.Now().Add(s.stepTimeout)
	for {
		current := s.CurrentURL(ctx)
		if loggedIn(current, loginPath, login.SuccessRedirect) {
			s.logger.Info("Login succeeded", map[string]interface{}{"role": login.Role, "url": current})
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("still on %s after submitting credentials for role %s", current, login.Role)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loginPollInterval):
		}
	}
}

// loggedIn reports whether the current URL shows a completed login
func loggedIn(current, loginPath, successMarker string) bool {
	if current == "" {
		return false
	}
	if loginPath != "" && loginPath != "/" && strings.Contains(current, loginPath) {
		return false
	}
	if successMarker != "" && successMarker != "/" {
		return strings.Contains(current, successMarker)
	}
	return true
}

// CurrentURL returns the page URL, or "" when it cannot be read
func (s *Session) CurrentURL(ctx context.Context) string {
	opCtx, cancel := s.opContext(ctx, 2*time.Second)
	defer cancel()
	var location string
	if err := chromedp.Run(opCtx, chromedp.Location(&location)); err != nil {
		return ""
	}
	return location
}

// PageSnapshot describes the current page for the step planner
func (s *Session) PageSnapshot(ctx context.Context) (string, error) {
	opCtx, cancel := s.opContext(ctx, s.stepTimeout)
	defer cancel()
	var snapshot string
	if err := chromedp.Run(opCtx, chromedp.Evaluate(snapshotScript, &snapshot)); err != nil {
		return "", fmt.Errorf("page snapshot: %w", err)
	}
	return snapshot, nil
}

// Execute performs one step, then captures a screenshot and the duration
func (s *Session) Execute(ctx context.Context, step models.TestStep) models.TestStep {
	start := time.Now()
	step.Status = models.StepRunning

	if err := s.perform(ctx, step); err != nil {
		step.Status = models.StepFailed
		step.ErrorMessage = err.Error()
	} else {
		step.Status = models.StepPassed
		step.ErrorMessage = ""
	}

	step.Screenshot = s.screenshot(ctx)
	step.DurationMs = time.Since(start).Milliseconds()

	s.logger.Debug("Step executed", map[string]interface{}{
		"step":   step.StepNumber,
		"action": string(step.Action),
		"status": string(step.Status),
	})
	return step
}

// perform dispatches on the action kind
func (s *Session) perform(ctx context.Context, step models.TestStep) error {
	if step.Action != models.ActionNavigate {
		step.Target = NormalizeSelector(step.Target)
	}

	switch step.Action {
	case models.ActionNavigate:
		current := s.CurrentURL(ctx)
		return s.Navigate(ctx, resolveURL(current, step.Target))

	case models.ActionClick:
		return s.run(ctx, s.stepTimeout,
			chromedp.WaitVisible(step.Target, queryOpts(step.Target)...),
			chromedp.Click(step.Target, queryOpts(step.Target)...),
		)

	case models.ActionType:
		return s.run(ctx, s.stepTimeout,
			chromedp.WaitVisible(step.Target, queryOpts(step.Target)...),
			chromedp.Clear(step.Target, queryOpts(step.Target)...),
			chromedp.SendKeys(step.Target, step.Value, queryOpts(step.Target)...),
		)

	case models.ActionSelect:
		var ok bool
		if err := s.run(ctx, s.stepTimeout,
			chromedp.WaitVisible(step.Target, queryOpts(step.Target)...),
			chromedp.Evaluate(selectScript(step.Target, step.Value), &ok),
		); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("option %q not available in %s", step.Value, step.Target)
		}
		return nil

	case models.ActionAssert:
		if err := s.run(ctx, assertTimeout, chromedp.WaitVisible(step.Target, queryOpts(step.Target)...)); err != nil {
			return fmt.Errorf("element %s not visible: %w", step.Target, err)
		}
		if step.Value == "" {
			return nil
		}
		var text string
		if err := s.run(ctx, assertTimeout, chromedp.Text(step.Target, &text, queryOpts(step.Target)...)); err != nil {
			return err
		}
		if !strings.Contains(text, step.Value) {
			return fmt.Errorf("element %s text %q does not contain %q", step.Target, truncate(text, 200), step.Value)
		}
		return nil

	case models.ActionWait:
		target := strings.TrimSpace(step.Target)
		if target == "" {
			target = step.Value
		}
		if ms, err := strconv.Atoi(target); err == nil || target == "" {
			d := time.Duration(ms) * time.Millisecond
			if target == "" {
				d = time.Second
			}
			return s.run(ctx, waitTimeout+time.Second, chromedp.Sleep(min(d, waitTimeout)))
		}
		return s.run(ctx, waitTimeout, chromedp.WaitVisible(target, queryOpts(target)...))

	case models.ActionScreenshot:
		return nil

	default:
		return fmt.Errorf("unsupported action %q", step.Action)
	}
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := s.opContext(ctx, timeout)
	defer cancel()
	err := chromedp.Run(opCtx, actions...)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	return err
}

func (s *Session) screenshot(ctx context.Context) []byte {
	var buf []byte
	if err := s.run(ctx, s.stepTimeout, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		s.logger.Debug("Screenshot failed", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return buf
}

// Close releases the browser context; safe to call more than once
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := chromedp.Cancel(s.ctx)
	s.cancel()
	if s.onClose != nil {
		s.onClose(s.id)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close %s: %w", s.id, err)
	}
	return nil
}

// queryOpts picks the selector engine: XPath for path-like or text= selectors, CSS otherwise
func queryOpts(sel string) []chromedp.QueryOption {
	if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") {
		return []chromedp.QueryOption{chromedp.BySearch}
	}
	return []chromedp.QueryOption{chromedp.ByQuery}
}

// NormalizeSelector rewrites text=Label selectors into an XPath
func NormalizeSelector(sel string) string {
	if label, ok := strings.CutPrefix(sel, "text="); ok {
		label = strings.Trim(label, `"'`)
		return fmt.Sprintf(`//*[normalize-space(text())=%s]`, xpathLiteral(label))
	}
	return sel
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

func selectScript(selector, value string) string {
	sel, _ := json.Marshal(selector)
	val, _ := json.Marshal(value)
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  const v = %s;
  const opt = Array.from(el.options || []).find(o => o.value === v || o.text.trim() === v);
  if (!opt) return false;
  el.value = opt.value;
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})()`, sel, val)
}

// resolveURL resolves target against base; absolute targets are returned unchanged
func resolveURL(base, target string) string {
	if target == "" {
		return base
	}
	t, err := url.Parse(target)
	if err != nil || t.IsAbs() {
		return target
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return target
	}
	return b.ResolveReference(t).String()
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
