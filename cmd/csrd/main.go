// csrd is the call-assistant backbone server: HTTP session API, Twilio
// webhooks, and the realtime WebSocket channel.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/jackcarlos19/csr-call-assistant/pkg/api"
	"github.com/jackcarlos19/csr-call-assistant/pkg/config"
	"github.com/jackcarlos19/csr-call-assistant/pkg/database"
	"github.com/jackcarlos19/csr-call-assistant/pkg/guidance"
	"github.com/jackcarlos19/csr-call-assistant/pkg/hub"
	"github.com/jackcarlos19/csr-call-assistant/pkg/llm"
	"github.com/jackcarlos19/csr-call-assistant/pkg/redact"
	"github.com/jackcarlos19/csr-call-assistant/pkg/rules"
	"github.com/jackcarlos19/csr-call-assistant/pkg/store"
	"github.com/jackcarlos19/csr-call-assistant/pkg/twilio"
	"github.com/jackcarlos19/csr-call-assistant/pkg/ws"
)

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Development() {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logger.Error("Error closing database client", "error", err)
		}
	}()
	logger.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())
	redactor := redact.New(cfg.PIIRedactionMode)
	ruleEngine := rules.NewEngine(st, logger)
	llmClient := llm.NewClient(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey,
		cfg.LLMPrimaryModel, cfg.LLMFallbackModel, logger)

	var scheduler *guidance.Scheduler
	connHub := hub.New(10*time.Second, logger, hub.WithOnSessionEmpty(func(sessionID uuid.UUID) {
		scheduler.Cancel(sessionID)
	}))
	scheduler = guidance.NewScheduler(st, st, llmClient, connHub, logger)
	defer scheduler.Close()
	defer connHub.Close()

	pipeline := ws.NewPipeline(st, st, ruleEngine, scheduler, connHub, redactor, logger)
	twilioSvc := twilio.NewService(cfg.TwilioAuthToken, logger)

	server := api.NewServer(cfg, st, llmClient, pipeline, scheduler, twilioSvc, dbClient, logger)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("Shutdown complete")
}
