// vibe-agents - multi-agent coding pipeline server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/liamavtal/vibe-agents/internal/api"
	"github.com/liamavtal/vibe-agents/internal/config"
	"github.com/liamavtal/vibe-agents/internal/eventlog"
	"github.com/liamavtal/vibe-agents/internal/gateway"
	"github.com/liamavtal/vibe-agents/internal/identity"
	"github.com/liamavtal/vibe-agents/internal/intent"
	"github.com/liamavtal/vibe-agents/internal/middleware"
	"github.com/liamavtal/vibe-agents/internal/orchestrator"
	"github.com/liamavtal/vibe-agents/internal/project"
	"github.com/liamavtal/vibe-agents/internal/provider"
	"github.com/liamavtal/vibe-agents/internal/sandbox"
	"github.com/liamavtal/vibe-agents/internal/session"
	"github.com/liamavtal/vibe-agents/internal/store"
)

const version = "0.1.0"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Capability provider. A missing binary does not block startup;
	// invocations fail with a clear error and /health/detailed reports it.
	var prov provider.Provider = provider.NewCLI(cfg.ProviderBinary, cfg.ProviderModel, cfg.ProviderTimeout, logger)
	if err := prov.Available(); err != nil {
		slog.Warn("Capability provider unavailable, AI features degraded", "binary", cfg.ProviderBinary, "error", err)
	} else {
		slog.Info("Capability provider ready", "binary", cfg.ProviderBinary, "model", cfg.ProviderModel)
	}

	// Sandbox runner and pool.
	var runner sandbox.Runner
	if cfg.SandboxRunner == "docker" {
		dockerRunner, err := sandbox.NewDockerRunner(logger)
		if err != nil {
			slog.Error("Failed to initialize docker sandbox runner", "error", err)
			os.Exit(1)
		}
		runner = dockerRunner
		slog.Info("Docker sandbox runner initialized")
	} else {
		runner = sandbox.NewProcessRunner()
		slog.Info("Process sandbox runner initialized")
	}
	pool := sandbox.NewPool(cfg.SandboxLimit, runner, cfg.SandboxTimeout, logger)
	defer pool.DestroyAll()

	locator, err := project.NewLocator(repo, cfg.ProjectsDir)
	if err != nil {
		slog.Error("Failed to initialize project locator", "error", err)
		os.Exit(1)
	}
	contextBuilder := project.NewContextBuilder(repo)
	engine := orchestrator.NewEngine(prov, repo, pool, logger)

	events, err := eventlog.New(cfg.EventLog, logger)
	if err != nil {
		slog.Error("Failed to initialize event log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := events.Close(); closeErr != nil {
			slog.Error("Failed to close event log", "error", closeErr)
		}
	}()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, contextBuilder, prov, pool, version)
	wsHandler := gateway.NewHandler(
		session.Deps{
			Classifier: intent.NewClassifier(prov),
			Engine:     engine,
			Locator:    locator,
			Context:    contextBuilder,
			Repo:       repo,
			Logger:     logger,
		},
		cfg.MaxSessionsPerConnection,
		cfg.SessionIdleTTL,
		gateway.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		events,
		cfg.FrontendURL,
		cfg.IsDevelopment(),
		logger,
	)

	// Setup router.
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	r.Get("/health", baseHandler.HandleHealth)
	r.Get("/health/detailed", baseHandler.HandleHealthDetailed)
	baseHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/sessions", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Builds stream over long-lived WebSocket connections; no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
