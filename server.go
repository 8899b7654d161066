package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/KBesada24/AI-E2E-Agent/browser"
	"github.com/KBesada24/AI-E2E-Agent/config"
	"github.com/KBesada24/AI-E2E-Agent/handlers"
	"github.com/KBesada24/AI-E2E-Agent/middleware"
	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/services"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/KBesada24/AI-E2E-Agent/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
)

// Global variable to track server start time for uptime calculation
var startTime = time.Now()

// aiStatus is what the health endpoint reads from the AI collaborator
type aiStatus interface {
	IsAvailable() bool
	GetStatus() map[string]interface{}
}

// server bundles the components the HTTP layer is built from
type server struct {
	cfg      *config.Config
	logger   *utils.Logger
	resolver *services.ScopeResolver
	runs     handlers.RunManager
	active   func() int
	hub      *websocket.Hub
	ai       aiStatus
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and run API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

// serve wires every component, starts listening and blocks until a shutdown signal
func serve(ctx context.Context) error {
	cfg := config.Load()
	logger := utils.InitLogger(utils.LoggerOptions{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer func() { _ = logger.Sync() }()

	if problems := cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}

	mapping, err := loadMapping(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("Starting e2e agent", map[string]interface{}{
		"version":     version,
		"environment": cfg.Environment,
		"port":        cfg.Port,
		"modules":     len(mapping.Modules),
		"ai_enabled":  cfg.AIEnabled(),
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(logger)
	go hub.Run(hubCtx)

	var reporter services.WebSocketBroadcaster
	if cfg.EnableWebSocket {
		reporter = hub
	}

	analyzer := services.NewChangeAnalyzer(mapping, logger)
	resolver := services.NewScopeResolver(mapping, analyzer, logger)
	aiService := services.NewAIService(cfg, logger)
	consolidator := services.NewBugConsolidator(aiService, cfg.AIAnalysisTimeout, logger)

	engine := browser.NewEngine(browser.OptionsFromConfig(cfg), logger)
	launcher := services.LauncherFunc(func(ctx context.Context) (services.BrowserSession, error) {
		session, err := engine.NewSession(ctx)
		if err != nil {
			return nil, err
		}
		return session, nil
	})

	orchestrator := services.NewOrchestrator(launcher, aiService, consolidator, reporter, services.OrchestratorConfig{
		DefaultTimeout:  cfg.RunTimeout(),
		DefaultMaxSteps: cfg.MaxSteps,
		FlowStepCap:     cfg.FlowStepCap,
	}, logger)

	var sinks []services.ResultSink
	if cfg.TeamsWebhookURL != "" {
		sinks = append(sinks, services.NewTeamsSink(cfg.TeamsWebhookURL, cfg.TeamsOnlyFailed, logger))
	}
	runs := services.NewRunService(orchestrator, services.RunServiceConfig{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
		ResultTTL:         cfg.ResultTTL,
	}, logger, sinks...)

	app := newApp(&server{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		runs:     runs,
		active:   runs.ActiveCount,
		hub:      hub,
		ai:       aiService,
	})

	shutdown := utils.NewGracefulShutdown(60*time.Second, logger)
	shutdown.Register("browser", engine.Close)
	shutdown.Register("websocket", func(context.Context) error {
		stopHub()
		return nil
	})
	shutdown.Register("runs", runs.Shutdown)
	shutdown.Register("http", app.ShutdownWithContext)

	listenErr := make(chan error, 1)
	go func() {
		address := cfg.GetServerAddress()
		logger.Info("Server starting", map[string]interface{}{"address": address})
		listenErr <- app.Listen(address)
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCtx.Done():
		logger.Info("Shutdown signal received, starting graceful shutdown")
	}

	if err := shutdown.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("Server shutdown completed")
	return nil
}

// loadMapping reads the module mapping; a missing file falls back to the login defaults
func loadMapping(cfg *config.Config, logger *utils.Logger) (*models.ModuleMapping, error) {
	mapping, err := config.LoadModuleMapping(cfg.ModuleMappingPath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("Module mapping file not found, every push will run the smoke scope", map[string]interface{}{
			"path": cfg.ModuleMappingPath,
		})
		return config.DefaultModuleMapping(), nil
	}
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// newApp creates the Fiber application with middleware and routes
func newApp(s *server) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "E2E Agent v" + version,
		ServerHeader: "e2e-agent",
		ErrorHandler: middleware.ErrorHandler(s.logger),
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    4 * 1024 * 1024,
	})

	app.Use(middleware.PanicRecovery(s.logger))
	app.Use(middleware.RequestLogging(middleware.LoggingConfig{
		Logger:          s.logger,
		SkipPaths:       []string{"/health", "/ws"},
		SkipSuccessLogs: !s.cfg.EnableDetailedLogs && s.cfg.IsProduction(),
	}))

	setupRoutes(app, s)
	app.Use(middleware.NotFoundHandler())
	return app
}

// setupRoutes configures all routes for the application
func setupRoutes(app *fiber.App, s *server) {
	app.Get("/health", healthCheckHandler(s))

	if s.cfg.EnableWebSocket && s.hub != nil {
		app.Use("/ws", websocket.Upgrade)
		app.Get("/ws", s.hub.Handler())
		app.Get("/ws/stats", func(c *fiber.Ctx) error {
			return utils.SuccessResponse(c, "WebSocket statistics", s.hub.Stats())
		})
	}

	webhookHandler := handlers.NewWebhookHandler(s.runs, s.resolver, s.cfg, s.logger)
	hooks := app.Group("/webhook",
		middleware.RateLimiting(middleware.RateLimitConfig{RequestsPerMinute: s.cfg.WebhookRatePerMin, Logger: s.logger}),
		middleware.WebhookAuth(s.cfg.WebhookUsername, s.cfg.WebhookPassword, s.logger),
	)
	hooks.Post("/push", webhookHandler.Push)
	hooks.Post("/push/manual", webhookHandler.ManualPush)
	hooks.Post("/push/analyze", webhookHandler.Analyze)
	hooks.Post("/deployment-completed", webhookHandler.DeploymentCompleted)

	e2eHandler := handlers.NewE2EHandler(s.runs, s.resolver, s.cfg, s.logger)
	e2e := app.Group("/api/e2e", middleware.DashboardCORS(s.cfg.CORSOrigins))
	e2e.Post("/run", e2eHandler.RunAsync)
	e2e.Post("/run-sync", e2eHandler.RunSync)
	e2e.Get("/runs", e2eHandler.ListRuns)
	e2e.Get("/runs/active", e2eHandler.ListActiveRuns)
	e2e.Get("/runs/:id", e2eHandler.GetRun)
	e2e.Delete("/runs/:id", e2eHandler.CancelRun)
	e2e.Get("/modules", e2eHandler.ListModules)
	e2e.Get("/stats", e2eHandler.GetStats)

	if s.cfg.EnableDebugEndpoints {
		debugHandler := handlers.NewDebugHandler(s.cfg, s.ai)
		debug := app.Group("/api/debug", middleware.WebhookAuth(s.cfg.WebhookUsername, s.cfg.WebhookPassword, s.logger))
		debug.Get("/config", debugHandler.GetConfig)
		debug.Get("/routes", debugHandler.GetRoutes)
		debug.Get("/system", debugHandler.GetSystemInfo)
		debug.Get("/ai", debugHandler.GetAIStatus)
	}

	s.logger.Info("Routes configured", map[string]interface{}{
		"webhooks":       "/webhook",
		"api_base":       "/api/e2e",
		"websocket":      s.cfg.EnableWebSocket,
		"webhook_auth":   s.cfg.WebhookUsername != "",
		"teams_enabled":  s.cfg.TeamsWebhookURL != "",
		"mapped_modules": len(s.resolver.Modules()),
	})
}

// healthCheckHandler reports service readiness and collaborator state
func healthCheckHandler(s *server) fiber.Handler {
	return func(c *fiber.Ctx) error {
		health := models.HealthStatus{
			Status:      "healthy",
			E2EEnabled:  s.cfg.E2EEnabled,
			ModuleCount: len(s.resolver.Modules()),
		}
		if s.ai != nil {
			health.AIEnabled = s.ai.IsAvailable()
		}
		if s.active != nil {
			health.ActiveRuns = s.active()
		}
		if s.hub != nil {
			health.WSClients = s.hub.GetConnectedClients()
		}
		if !health.AIEnabled {
			health.Status = "degraded"
		}

		data := fiber.Map{
			"health":      health,
			"version":     version,
			"environment": s.cfg.Environment,
			"uptime":      time.Since(startTime).String(),
		}
		if s.ai != nil {
			data["ai"] = s.ai.GetStatus()
		}
		return utils.SuccessResponse(c, "Health check passed", data)
	}
}
