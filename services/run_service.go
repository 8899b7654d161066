package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrTooManyRuns is returned when every run slot is taken
	ErrTooManyRuns = errors.New("too many concurrent e2e runs")
	// ErrRunNotFound is returned for unknown or expired run ids
	ErrRunNotFound = errors.New("e2e run not found")
)

const sinkTimeout = 30 * time.Second

// RunServiceConfig holds the run registry limits
type RunServiceConfig struct {
	MaxConcurrentRuns int
	ResultTTL         time.Duration
}

// RunService starts orchestrated runs, tracks active ones and keeps recent results
type RunService struct {
	orchestrator *Orchestrator
	sinks        []ResultSink
	logger       *utils.Logger

	slots    *semaphore.Weighted
	capacity int
	results  *cache.Cache

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.RWMutex
	active map[string]*trackedRun
	stats  models.RunStats
}

type trackedRun struct {
	info   models.ActiveRun
	cancel context.CancelFunc
}

// NewRunService creates a run service; sinks receive every finished result
func NewRunService(orchestrator *Orchestrator, cfg RunServiceConfig, logger *utils.Logger, sinks ...ResultSink) *RunService {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 2
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &RunService{
		orchestrator: orchestrator,
		sinks:        sinks,
		logger:       logger.WithSource("run_service"),
		slots:        semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		capacity:     cfg.MaxConcurrentRuns,
		results:      cache.New(cfg.ResultTTL, cfg.ResultTTL/2),
		baseCtx:      baseCtx,
		cancelBase:   cancel,
		active:       make(map[string]*trackedRun),
	}
}

// StartRun runs the scope in the background and returns its id
func (s *RunService) StartRun(req RunRequest, scope *models.TestScope) (string, error) {
	if !s.slots.TryAcquire(1) {
		s.reject()
		return "", ErrTooManyRuns
	}
	if req.RunID == "" {
		req.RunID = NewRunID()
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.track(req, scope, cancel)

	s.wg.Add(1)
	utils.GoSafe(s.logger, "e2e-run-"+req.RunID, func() {
		defer s.wg.Done()
		defer s.slots.Release(1)
		defer cancel()
		s.execute(ctx, req, scope)
	})

	s.logger.Info("Run accepted", map[string]interface{}{
		"run_id":  req.RunID,
		"trigger": string(req.Trigger.Type),
		"flows":   flowCount(scope),
	})
	return req.RunID, nil
}

// RunSync runs the scope on the caller's goroutine and returns the finished result
func (s *RunService) RunSync(ctx context.Context, req RunRequest, scope *models.TestScope) (*models.E2ETestResult, error) {
	if !s.slots.TryAcquire(1) {
		s.reject()
		return nil, ErrTooManyRuns
	}
	defer s.slots.Release(1)
	if req.RunID == "" {
		req.RunID = NewRunID()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	s.track(req, scope, cancel)
	return s.execute(runCtx, req, scope), nil
}

func (s *RunService) track(req RunRequest, scope *models.TestScope, cancel context.CancelFunc) {
	info := models.ActiveRun{
		RunID:     req.RunID,
		Trigger:   req.Trigger,
		StartTime: time.Now(),
		FlowCount: flowCount(scope),
	}
	if scope != nil {
		info.ModuleNames = scope.ModuleNames
		if info.Trigger.Type == "" {
			info.Trigger.Type = scope.TriggerType
		}
	}
	s.mu.Lock()
	s.active[req.RunID] = &trackedRun{info: info, cancel: cancel}
	s.mu.Unlock()
}

// execute runs the orchestrator, stores the result and hands it to the sinks
func (s *RunService) execute(ctx context.Context, req RunRequest, scope *models.TestScope) *models.E2ETestResult {
	result := s.orchestrator.Run(ctx, req, scope)

	s.results.Set(result.RunID, result, cache.DefaultExpiration)
	s.mu.Lock()
	delete(s.active, result.RunID)
	s.count(result.Status)
	s.mu.Unlock()

	s.deliver(result)
	return result
}

func (s *RunService) count(status models.RunStatus) {
	s.stats.Completed++
	switch status {
	case models.RunPassed:
		s.stats.Passed++
	case models.RunFailed:
		s.stats.Failed++
	case models.RunTimeout:
		s.stats.TimedOut++
	case models.RunError, models.RunRunning:
		s.stats.Errored++
	}
}

func (s *RunService) reject() {
	s.mu.Lock()
	s.stats.Rejected++
	s.mu.Unlock()
	s.logger.Warn("Run rejected, no free slot", map[string]interface{}{"capacity": s.capacity})
}

// deliver hands the result to every sink; sink failures never change the result
func (s *RunService) deliver(result *models.E2ETestResult) {
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := deliverSafely(ctx, sink, result)
		cancel()
		if err != nil {
			s.logger.Error("Result sink failed", err, map[string]interface{}{
				"sink":   sink.Name(),
				"run_id": result.RunID,
			})
		}
	}
}

func deliverSafely(ctx context.Context, sink ResultSink, result *models.E2ETestResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("sink panicked: %v", p)
		}
	}()
	return sink.Deliver(ctx, result)
}

// GetResult returns a finished result, or a RUNNING placeholder for an active run
func (s *RunService) GetResult(runID string) (*models.E2ETestResult, error) {
	if v, ok := s.results.Get(runID); ok {
		return v.(*models.E2ETestResult), nil
	}
	s.mu.RLock()
	tracked, ok := s.active[runID]
	s.mu.RUnlock()
	if ok {
		info := tracked.info
		running := models.NewE2ETestResult(info.RunID, "", "", info.Trigger, info.StartTime)
		running.ModuleNames = info.ModuleNames
		running.FlowCount = info.FlowCount
		return running, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// ActiveRuns lists unfinished runs, oldest first
func (s *RunService) ActiveRuns() []models.ActiveRun {
	s.mu.RLock()
	runs := make([]models.ActiveRun, 0, len(s.active))
	for _, t := range s.active {
		runs = append(runs, t.info)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartTime.Before(runs[j].StartTime) })
	return runs
}

// RecentResults lists cached results, newest first
func (s *RunService) RecentResults() []models.RunSummary {
	items := s.results.Items()
	summaries := make([]models.RunSummary, 0, len(items))
	for _, item := range items {
		if result, ok := item.Object.(*models.E2ETestResult); ok {
			summaries = append(summaries, result.Summarize())
		}
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].StartTime.After(summaries[j].StartTime) })
	return summaries
}

// CancelRun cancels an active run; it ends as ERROR at its next checkpoint
func (s *RunService) CancelRun(runID string) error {
	s.mu.RLock()
	tracked, ok := s.active[runID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not active", ErrRunNotFound, runID)
	}
	tracked.cancel()
	s.logger.Info("Run cancellation requested", map[string]interface{}{"run_id": runID})
	return nil
}

// Stats returns run counters
func (s *RunService) Stats() models.RunStats {
	s.mu.RLock()
	stats := s.stats
	stats.Active = len(s.active)
	s.mu.RUnlock()
	stats.Capacity = s.capacity
	stats.Cached = s.results.ItemCount()
	return stats
}

// ActiveCount returns the number of unfinished runs
func (s *RunService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// Shutdown cancels every active run and waits for background runs to finish
func (s *RunService) Shutdown(ctx context.Context) error {
	s.cancelBase()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d active runs: %w", s.ActiveCount(), ctx.Err())
	}
}

func flowCount(scope *models.TestScope) int {
	if scope == nil {
		return 0
	}
	return len(scope.TestFlows)
}
