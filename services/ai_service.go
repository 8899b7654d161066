package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

var (
	// ErrAIUnavailable is returned when no API key is configured
	ErrAIUnavailable = errors.New("AI service is not configured")
	// ErrUnparsableResponse is returned when the model answer is not the requested JSON
	ErrUnparsableResponse = errors.New("unparsable AI response")
)

const (
	maxSnapshotChars = 6000
	aiMaxRetries     = 2
)

// chatClient is the subset of the OpenAI client used here
type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// AIService plans test steps and analyzes failures through OpenAI, with rate limiting and a circuit breaker
type AIService struct {
	client          chatClient
	model           string
	rateLimiter     *rate.Limiter
	circuitBreaker  *utils.CircuitBreaker
	planTimeout     time.Duration
	analysisTimeout time.Duration
	retryBase       time.Duration
	mu              sync.RWMutex
	isAvailable     bool
	lastError       error
	lastCheck       time.Time
	logger          *utils.Logger
}

// NewAIService creates a new AI service instance
func NewAIService(cfg *config.Config, logger *utils.Logger) *AIService {
	if logger == nil {
		logger = utils.GetLogger()
	}

	var client chatClient
	if cfg.OpenAIAPIKey != "" {
		clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			clientConfig.BaseURL = cfg.OpenAIBaseURL
		}
		client = openai.NewClientWithConfig(clientConfig)
	}

	return newAIService(client, cfg, logger)
}

func newAIService(client chatClient, cfg *config.Config, logger *utils.Logger) *AIService {
	perMinute := cfg.AIRateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = openai.GPT4oMini
	}

	breakerConfig := utils.DefaultCircuitBreakerConfig("openai_api")
	breakerConfig.MaxFailures = 3
	breakerConfig.Cooldown = 60 * time.Second

	return &AIService{
		client:          client,
		model:           model,
		rateLimiter:     rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 5),
		circuitBreaker:  utils.NewCircuitBreaker(breakerConfig, logger),
		planTimeout:     cfg.AIPlanTimeout,
		analysisTimeout: cfg.AIAnalysisTimeout,
		retryBase:       500 * time.Millisecond,
		isAvailable:     client != nil,
		lastCheck:       time.Now(),
		logger:          logger.WithSource("ai_service"),
	}
}

// IsAvailable checks if the AI service is available
func (s *AIService) IsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAvailable && s.client != nil
}

// PlanSteps asks the model for the browser steps of one flow
func (s *AIService) PlanSteps(ctx context.Context, req PlanRequest) ([]models.TestStep, error) {
	if s.client == nil {
		if req.Exploratory {
			return defaultExploratorySteps(req.PageURL), nil
		}
		return nil, ErrAIUnavailable
	}

	if s.planTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.planTimeout)
		defer cancel()
	}

	content, err := s.complete(ctx, plannerSystemPrompt, buildPlanPrompt(req), 2000)
	if err != nil {
		if req.Exploratory {
			s.logger.Warn("Step planning failed, using default exploratory steps", map[string]interface{}{
				"error": err.Error(),
			})
			return defaultExploratorySteps(req.PageURL), nil
		}
		return nil, fmt.Errorf("plan steps: %w", err)
	}

	steps, err := ParseStepPlan(content, req.StepBudget)
	if err != nil {
		s.logger.Warn("Step plan could not be parsed", map[string]interface{}{
			"error":   err.Error(),
			"content": truncate(content, 500),
		})
		return nil, err
	}

	s.logger.Info("Steps planned", map[string]interface{}{
		"url":    req.PageURL,
		"steps":  len(steps),
		"budget": req.StepBudget,
	})
	return steps, nil
}

// AnalyzeBug asks the model for a structured description of one flow's failures
func (s *AIService) AnalyzeBug(ctx context.Context, req BugAnalysisRequest) (*BugAnalysis, error) {
	if s.client == nil {
		return nil, ErrAIUnavailable
	}

	if s.analysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.analysisTimeout)
		defer cancel()
	}

	content, err := s.complete(ctx, analyzerSystemPrompt, buildAnalysisPrompt(req), 1500)
	if err != nil {
		return nil, fmt.Errorf("analyze bug: %w", err)
	}
	return ParseBugAnalysis(content)
}

// complete runs one chat completion behind the breaker and limiter, retrying transient API errors
func (s *AIService) complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	request := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	var content string
	operation := func() error {
		err := s.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
			if err := s.rateLimiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limit wait: %w", err)
			}
			resp, err := s.client.CreateChatCompletion(ctx, request)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return errors.New("completion returned no choices")
			}
			content = resp.Choices[0].Message.Content
			return nil
		})
		if err != nil && !isRetryableAIError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retryBase
	policy.MaxInterval = 10 * time.Second
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, aiMaxRetries), ctx))

	s.updateAvailability(err)
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	return content, nil
}

// isRetryableAIError accepts throttling, server side and network errors
func isRetryableAIError(err error) bool {
	if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *AIService) updateAvailability(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = time.Now()
	s.lastError = err
	s.isAvailable = s.client != nil && !errors.Is(err, utils.ErrCircuitOpen)
}

// GetStatus returns the AI service status for the health endpoint
func (s *AIService) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]interface{}{
		"available":       s.isAvailable && s.client != nil,
		"model":           s.model,
		"last_check":      s.lastCheck,
		"circuit_breaker": s.circuitBreaker.Stats(),
	}
	if s.lastError != nil {
		status["last_error"] = s.lastError.Error()
	}
	return status
}

const plannerSystemPrompt = `You are a QA engineer driving a web browser to test one user flow.
Reply with a single JSON object and nothing else.`

const analyzerSystemPrompt = `You are a senior QA engineer writing a bug report from failed browser test steps.
Reply with a single JSON object and nothing else.`

func buildPlanPrompt(req PlanRequest) string {
	var b strings.Builder
	if req.ScopeDescription != "" {
		b.WriteString(req.ScopeDescription)
		b.WriteString("\n")
	}
	b.WriteString("## Current flow\n")
	b.WriteString(req.FlowContext)
	fmt.Fprintf(&b, "\nCurrent URL: %s\n", req.PageURL)
	if req.PageSnapshot != "" {
		b.WriteString("\n## Page snapshot\n")
		b.WriteString(truncate(req.PageSnapshot, maxSnapshotChars))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nPlan at most %d steps. Allowed actions:\n", req.StepBudget)
	b.WriteString("- NAVIGATE: target is a URL or a path relative to the application\n")
	b.WriteString("- CLICK: target is a CSS selector\n")
	b.WriteString("- TYPE: target is a CSS selector, value is the text to type\n")
	b.WriteString("- SELECT: target is a <select> CSS selector, value is the option value\n")
	b.WriteString("- ASSERT: target is a CSS selector that must be visible, optional value is text it must contain\n")
	b.WriteString("- WAIT: target is a CSS selector to wait for, or a number of milliseconds\n")
	b.WriteString("- SCREENSHOT: capture the page\n")
	b.WriteString("\nUse selectors that exist in the snapshot. Respond as:\n")
	b.WriteString(`{"steps":[{"action":"CLICK","target":"#submit","value":"","description":"Submit the form"}]}`)
	b.WriteString("\n")
	return b.String()
}

func buildAnalysisPrompt(req BugAnalysisRequest) string {
	var b strings.Builder
	b.WriteString("## Flow\n")
	b.WriteString(req.FlowContext)
	b.WriteString("\n## All steps\n")
	b.WriteString(req.AllStepsSummary)
	b.WriteString("\n## Failed steps\n")
	b.WriteString(req.FailedStepsDetail)
	b.WriteString("\nWrite one bug report covering every failed step. Respond as:\n")
	b.WriteString(`{"title":"short title","summary":"what went wrong for a non-technical reader",`)
	b.WriteString(`"technicalDetail":"details for engineers","impact":"business impact","suggestedFix":"where to look and what to change"}`)
	b.WriteString("\n")
	return b.String()
}

type plannedStep struct {
	Action      string `json:"action"`
	Target      string `json:"target"`
	Value       string `json:"value"`
	Description string `json:"description"`
}

// ParseStepPlan reads {"steps":[...]} (or a bare array) and keeps at most budget valid steps
func ParseStepPlan(content string, budget int) ([]models.TestStep, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, fmt.Errorf("%w: no JSON found", ErrUnparsableResponse)
	}

	var items []plannedStep
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
		}
	} else {
		var plan struct {
			Steps []plannedStep `json:"steps"`
		}
		if err := json.Unmarshal([]byte(raw), &plan); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
		}
		items = plan.Steps
	}

	steps := make([]models.TestStep, 0, len(items))
	for _, item := range items {
		action, err := models.ParseAction(item.Action)
		if err != nil {
			continue
		}
		steps = append(steps, models.TestStep{
			Action:      action,
			Target:      strings.TrimSpace(item.Target),
			Value:       item.Value,
			Description: item.Description,
			Status:      models.StepPlanned,
		})
		if budget > 0 && len(steps) == budget {
			break
		}
	}
	return steps, nil
}

// ParseBugAnalysis reads the five-field bug JSON
func ParseBugAnalysis(content string) (*BugAnalysis, error) {
	raw := extractJSON(content)
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparsableResponse)
	}
	var analysis BugAnalysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
	}
	if strings.TrimSpace(analysis.Title) == "" && strings.TrimSpace(analysis.Summary) == "" {
		return nil, fmt.Errorf("%w: title and summary are empty", ErrUnparsableResponse)
	}
	return &analysis, nil
}

// extractJSON pulls the JSON payload out of a fenced block or surrounding prose
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "```"); start >= 0 {
		body := content[start+3:]
		body = strings.TrimPrefix(body, "json")
		if end := strings.Index(body, "```"); end >= 0 {
			content = strings.TrimSpace(body[:end])
		}
	}

	objStart, objEnd := strings.Index(content, "{"), strings.LastIndex(content, "}")
	arrStart, arrEnd := strings.Index(content, "["), strings.LastIndex(content, "]")
	if arrStart >= 0 && arrEnd > arrStart && (objStart < 0 || arrStart < objStart) {
		return content[arrStart : arrEnd+1]
	}
	if objStart >= 0 && objEnd > objStart {
		return content[objStart : objEnd+1]
	}
	return ""
}

// defaultExploratorySteps is the plan used when the model cannot be reached for a whole-app run
func defaultExploratorySteps(url string) []models.TestStep {
	return []models.TestStep{
		{Action: models.ActionNavigate, Target: url, Description: "Open the application", Status: models.StepPlanned},
		{Action: models.ActionAssert, Target: "body", Description: "Page body is visible", Status: models.StepPlanned},
	}
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
