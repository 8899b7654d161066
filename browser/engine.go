package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/chromedp/chromedp"
	"github.com/hashicorp/go-multierror"
)

// ErrEngineClosed is returned when a session is requested after shutdown
var ErrEngineClosed = errors.New("browser engine is closed")

// Options configures the browser engine
type Options struct {
	Headless    bool
	ExecPath    string
	Width       int
	Height      int
	StepTimeout time.Duration
}

// OptionsFromConfig builds engine options from the application config
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Headless:    cfg.BrowserHeadless,
		ExecPath:    cfg.BrowserExecPath,
		Width:       cfg.BrowserWidth,
		Height:      cfg.BrowserHeight,
		StepTimeout: cfg.BrowserStepTimeout,
	}
}

// Engine owns one browser process, started on first use and shared by all runs
type Engine struct {
	opts   Options
	logger *utils.Logger

	mu            sync.Mutex
	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sessions      map[string]*Session
	seq           int
	closed        bool
}

// NewEngine creates an engine; the browser starts lazily
func NewEngine(opts Options, logger *utils.Logger) *Engine {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 10 * time.Second
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	return &Engine{
		opts:     opts,
		logger:   logger.WithSource("browser"),
		sessions: make(map[string]*Session),
	}
}

// start launches the browser process once, relaunching it after a crash
func (e *Engine) start() error {
	e.dropDeadBrowser()
	if e.browserCtx != nil {
		return nil
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.opts.Headless),
		chromedp.WindowSize(e.opts.Width, e.opts.Height),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
	)
	if e.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(e.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}

	e.allocCtx, e.allocCancel = allocCtx, allocCancel
	e.browserCtx, e.browserCancel = browserCtx, browserCancel
	e.logger.Info("Browser engine started", map[string]interface{}{
		"headless": e.opts.Headless,
		"width":    e.opts.Width,
		"height":   e.opts.Height,
	})
	return nil
}

// NewSession opens an isolated browser context with its own cookies and storage
func (e *Engine) NewSession(ctx context.Context) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.start(); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx, chromedp.WithNewBrowserContext())
	e.seq++
	s := newSession(tabCtx, fmt.Sprintf("session-%d", e.seq), tabCancel, e.opts.StepTimeout, e.logger)
	s.onClose = e.forget

	// attach the tab now so listeners see the first navigation
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		if e.dropDeadBrowser() {
			return nil, fmt.Errorf("open browser context: browser exited: %w", err)
		}
		return nil, fmt.Errorf("open browser context: %w", err)
	}

	e.sessions[s.id] = s
	e.logger.Debug("Browser session opened", map[string]interface{}{
		"session_id":    s.id,
		"open_sessions": len(e.sessions),
	})
	return s, nil
}

// dropDeadBrowser clears a browser whose context has ended so the next session starts a new one.
// Caller holds e.mu.
func (e *Engine) dropDeadBrowser() bool {
	if e.browserCtx == nil || e.browserCtx.Err() == nil {
		return false
	}
	e.logger.Warn("Browser process is gone, it will be relaunched", map[string]interface{}{
		"open_sessions": len(e.sessions),
	})
	e.browserCancel()
	if e.allocCancel != nil {
		e.allocCancel()
	}
	e.allocCtx, e.allocCancel = nil, nil
	e.browserCtx, e.browserCancel = nil, nil
	return true
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, id)
}

// OpenSessions returns the number of live sessions
func (e *Engine) OpenSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Close ends every session and stops the browser process
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	var result *multierror.Error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx != nil {
		if err := chromedp.Cancel(e.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			result = multierror.Append(result, fmt.Errorf("stop browser: %w", err))
		}
		e.browserCancel()
		e.allocCancel()
		e.browserCtx = nil
	}

	e.logger.Info("Browser engine stopped", map[string]interface{}{"closed_sessions": len(sessions)})
	return result.ErrorOrNil()
}
