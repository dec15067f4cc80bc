package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"drawbridge/cmd/server/internal/handlers"
	"drawbridge/cmd/server/internal/middleware"
	"drawbridge/internal/agent"
	authpkg "drawbridge/internal/auth"
	"drawbridge/internal/config"
	"drawbridge/internal/db"
	"drawbridge/internal/llm"
	"drawbridge/internal/sanitize"
	"drawbridge/internal/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Database
	dbClient, err := db.NewClient(db.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxConnections:  cfg.Database.MaxConnections,
		IdleConnections: cfg.Database.IdleConnections,
		MaxLifetime:     cfg.Database.MaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()

	if err := dbClient.Migrate(context.Background()); err != nil {
		logger.Fatal("Failed to apply database schema", zap.Error(err))
	}
	store := db.NewStore(dbClient.DB(), logger)

	// Redis is optional; without it rate limiting degrades to per-process.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("Redis unreachable at startup", zap.Error(err))
		}
	}

	// Prompt templates with hot reload
	prompts, err := config.NewPromptStore(cfg.Agent.PromptsPath, logger)
	if err != nil {
		logger.Fatal("Failed to load prompt templates", zap.Error(err))
	}
	if err := prompts.Watch(); err != nil {
		logger.Warn("Prompt hot reload disabled", zap.Error(err))
	}
	defer prompts.Close()

	// Tools
	search := tools.NewWebSearch(tools.SearchConfig{
		Endpoint:   cfg.Tools.Search.Endpoint,
		APIKey:     cfg.Tools.Search.APIKey,
		MaxResults: cfg.Tools.Search.MaxResults,
		Timeout:    cfg.Tools.Search.Timeout,
	}, logger)
	mermaid := tools.NewMermaidCheck(tools.MermaidConfig{
		Command: cfg.Tools.Mermaid.Command,
		Timeout: cfg.Tools.Mermaid.Timeout,
	}, logger)
	registry := tools.NewRegistry(search, mermaid)

	// Model clients: one endpoint, three bindings. Routing carries no
	// tools; each terminal node sees only its own capability set.
	base := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxAttempts: cfg.LLM.MaxAttempts,
		Timeout:     cfg.LLM.Timeout,
	}, logger)
	directClient := base.WithTools(search.Spec())
	workflowClient := base.WithTools(mermaid.Spec(), search.Spec())

	sanitizer := sanitize.New(cfg.Agent.MaxInputLength, logger)
	orchestrator := agent.NewOrchestrator(agent.Config{
		Routing:       base,
		Direct:        directClient,
		Workflow:      workflowClient,
		Engine:        agent.NewEngine(registry, logger),
		Sanitizer:     sanitizer,
		Prompts:       prompts,
		MaxIterations: cfg.Agent.MaxIterations,
		ContextWindow: cfg.Agent.ContextWindow,
		Logger:        logger,
	})

	// Auth
	jwtManager := authpkg.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessExpiry)
	authService := authpkg.NewService(store, jwtManager, logger)

	// Handlers
	healthHandler := handlers.NewHealthHandler(dbClient.DB(), redisClient, logger)
	authHandler := handlers.NewAuthHandler(authService, cfg.Auth.AccessExpiry, logger)
	convHandler := handlers.NewConversationHandler(store, logger)
	promptHandler := handlers.NewPromptHandler(store, orchestrator,
		cfg.Server.RequestTimeout, cfg.Agent.ContextWindow, cfg.Agent.MaxInputLength, logger)

	// Middlewares
	tracing := middleware.NewTracing(logger).Middleware
	authMiddleware := authpkg.NewMiddleware(jwtManager).HTTPMiddleware
	rateLimiter := middleware.NewRateLimiter(redisClient, 60, 20, logger).Middleware

	mux := http.NewServeMux()

	// Public endpoints
	mux.HandleFunc("GET /health", healthHandler.Health)
	mux.Handle("POST /api/v1/auth/register", tracing(http.HandlerFunc(authHandler.Register)))
	mux.Handle("POST /api/v1/auth/login", tracing(http.HandlerFunc(authHandler.Login)))

	// Authenticated endpoints
	mux.Handle("GET /api/v1/conversations",
		tracing(authMiddleware(rateLimiter(http.HandlerFunc(convHandler.List)))))
	mux.Handle("POST /api/v1/conversations",
		tracing(authMiddleware(rateLimiter(http.HandlerFunc(convHandler.Create)))))
	mux.Handle("DELETE /api/v1/conversations/{id}",
		tracing(authMiddleware(rateLimiter(http.HandlerFunc(convHandler.Delete)))))
	mux.Handle("GET /api/v1/conversations/{id}/messages",
		tracing(authMiddleware(rateLimiter(http.HandlerFunc(convHandler.Messages)))))
	mux.Handle("POST /api/v1/prompt",
		tracing(authMiddleware(rateLimiter(http.HandlerFunc(promptHandler.Prompt)))))

	handler := middleware.CORS(middleware.Metrics(mux))

	// Prometheus metrics on a separate port, never exposed with the API.
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("Metrics server starting", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: handler,
		// The prompt endpoint legitimately runs for up to the request
		// timeout; give writes headroom beyond it.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server starting",
			zap.String("addr", server.Addr),
			zap.String("database", cfg.Database.Driver),
			zap.String("model", cfg.LLM.Model),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zcfg.Build()
}
