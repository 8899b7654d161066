package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config holds all configuration for the application
type Config struct {
	// Server Configuration
	Port        string
	Host        string
	Environment string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// OpenAI Configuration
	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAIModel          string
	AIRateLimitPerMinute int
	AIPlanTimeout        time.Duration
	AIAnalysisTimeout    time.Duration

	// E2E Configuration
	E2EEnabled         bool
	StagingURL         string
	AppDescription     string
	MaxSteps           int
	FlowStepCap        int
	TimeoutSeconds     int
	Repository         string
	Branches           []string
	ModuleMappingPath  string
	MaxConcurrentRuns  int
	ResultTTL          time.Duration
	WebhookUsername    string
	WebhookPassword    string
	WebhookRatePerMin  int
	TeamsWebhookURL    string
	TeamsOnlyFailed    bool
	CORSOrigins        []string
	EnableWebSocket    bool
	EnableDetailedLogs bool

	// Debug Configuration
	EnableDebugEndpoints bool

	// Browser Configuration
	BrowserHeadless    bool
	BrowserExecPath    string
	BrowserStepTimeout time.Duration
	BrowserWidth       int
	BrowserHeight      int
}

// Load loads configuration from the environment, reading .env first when present
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Host:        getEnv("HOST", "0.0.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),

		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "json")),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 14),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		AIRateLimitPerMinute: getEnvAsInt("AI_RATE_LIMIT_PER_MINUTE", 60),
		AIPlanTimeout:        getEnvAsSeconds("AI_PLAN_TIMEOUT_SECONDS", 60),
		AIAnalysisTimeout:    getEnvAsSeconds("AI_ANALYSIS_TIMEOUT_SECONDS", 60),

		E2EEnabled:         getEnvAsBool("E2E_ENABLED", true),
		StagingURL:         strings.TrimRight(getEnv("E2E_STAGING_URL", ""), "/"),
		AppDescription:     getEnv("E2E_APP_DESCRIPTION", ""),
		MaxSteps:           getEnvAsInt("E2E_MAX_STEPS", 30),
		FlowStepCap:        getEnvAsInt("E2E_FLOW_STEP_CAP", 15),
		TimeoutSeconds:     getEnvAsInt("E2E_TIMEOUT_SECONDS", 300),
		Repository:         getEnv("E2E_REPOSITORY", ""),
		Branches:           getEnvAsList("E2E_BRANCHES"),
		ModuleMappingPath:  getEnv("E2E_MODULE_MAPPING", "e2e-module-mapping.yml"),
		MaxConcurrentRuns:  getEnvAsInt("E2E_MAX_CONCURRENT_RUNS", 2),
		ResultTTL:          time.Duration(getEnvAsInt("E2E_RESULT_TTL_MINUTES", 60)) * time.Minute,
		WebhookUsername:    getEnv("WEBHOOK_USERNAME", ""),
		WebhookPassword:    getEnv("WEBHOOK_PASSWORD", ""),
		WebhookRatePerMin:  getEnvAsInt("WEBHOOK_RATE_LIMIT_PER_MINUTE", 60),
		TeamsWebhookURL:    getEnv("TEAMS_WEBHOOK_URL", ""),
		TeamsOnlyFailed:    getEnvAsBool("TEAMS_ONLY_FAILED", false),
		CORSOrigins:        getEnvAsList("CORS_ORIGINS"),
		EnableWebSocket:    getEnvAsBool("ENABLE_WEBSOCKET", true),
		EnableDetailedLogs: getEnvAsBool("ENABLE_DETAILED_LOGS", false),

		EnableDebugEndpoints: getEnvAsBool("ENABLE_DEBUG_ENDPOINTS", false),

		BrowserHeadless:    getEnvAsBool("BROWSER_HEADLESS", true),
		BrowserExecPath:    getEnv("BROWSER_EXEC_PATH", ""),
		BrowserStepTimeout: getEnvAsSeconds("BROWSER_STEP_TIMEOUT_SECONDS", 10),
		BrowserWidth:       getEnvAsInt("BROWSER_WINDOW_WIDTH", 1920),
		BrowserHeight:      getEnvAsInt("BROWSER_WINDOW_HEIGHT", 1080),
	}
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a fallback default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as boolean with a fallback default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsSeconds reads a whole number of seconds
func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}

// getEnvAsList splits a comma separated variable, dropping blanks
func getEnvAsList(key string) []string {
	parts := strings.Split(os.Getenv(key), ",")
	return lo.FilterMap(parts, func(p string, _ int) (string, bool) {
		p = strings.TrimSpace(p)
		return p, p != ""
	})
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return c.Host + ":" + c.Port
}

// AIEnabled reports whether an OpenAI key is configured
func (c *Config) AIEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// BranchAllowed reports whether a branch may trigger push runs; an empty list allows all
func (c *Config) BranchAllowed(branch string) bool {
	return len(c.Branches) == 0 || lo.Contains(c.Branches, branch)
}

// RepositoryAllowed reports whether a repository may trigger push runs
func (c *Config) RepositoryAllowed(repo string) bool {
	return c.Repository == "" || strings.EqualFold(c.Repository, repo)
}

// RunTimeout returns the default run budget
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate validates the configuration and returns any errors
func (c *Config) Validate() []string {
	var errors []string

	if c.Port == "" {
		errors = append(errors, "PORT is required")
	}

	if !lo.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errors = append(errors, "LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if !lo.Contains([]string{"json", "text"}, c.LogFormat) {
		errors = append(errors, "LOG_FORMAT must be one of: json, text")
	}

	if !lo.Contains([]string{"development", "staging", "production", "test"}, c.Environment) {
		errors = append(errors, "ENVIRONMENT must be one of: development, staging, production, test")
	}

	if c.MaxSteps < 1 {
		errors = append(errors, "E2E_MAX_STEPS must be positive")
	}

	if c.FlowStepCap < 1 {
		errors = append(errors, "E2E_FLOW_STEP_CAP must be positive")
	}

	if c.TimeoutSeconds < 1 {
		errors = append(errors, "E2E_TIMEOUT_SECONDS must be positive")
	}

	if c.MaxConcurrentRuns < 1 {
		errors = append(errors, "E2E_MAX_CONCURRENT_RUNS must be positive")
	}

	if c.E2EEnabled && c.StagingURL == "" {
		errors = append(errors, "E2E_STAGING_URL is required when E2E_ENABLED is true")
	}

	if c.WebhookUsername != "" && c.WebhookPassword == "" {
		errors = append(errors, "WEBHOOK_PASSWORD is required when WEBHOOK_USERNAME is set")
	}

	return errors
}
