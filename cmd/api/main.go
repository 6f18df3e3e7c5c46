package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"fixmate/internal/adapter/api"
	"fixmate/internal/adapter/api/handler"
	apimiddleware "fixmate/internal/adapter/api/middleware"
	"fixmate/internal/adapter/api/router"
	"fixmate/internal/bootstrap"
	"fixmate/internal/infrastructure/ratelimit"
	"fixmate/internal/infrastructure/websocket"
	"fixmate/internal/usecase"
	"fixmate/pkg/config"
	"fixmate/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize %s backend: %v", cfg.DataBackend, err)
		os.Exit(1)
	}
	defer backend.Close()

	// Per-user action limits enforced inside the chat session.
	actionLimiter := ratelimit.NewRateLimiter(map[string]ratelimit.Policy{
		usecase.ActionSendMessage:        {Burst: cfg.SendRatePerMinute, Per: time.Minute},
		usecase.ActionCreateConversation: {Burst: cfg.CreateConversationRatePerHour, Per: time.Hour},
	}, ratelimit.Policy{})
	actionLimiter.StartCleanupRoutine(ctx, 30*time.Minute, 2*time.Hour)

	// Coarse per-caller request limit on the HTTP surface.
	requestLimiter := ratelimit.NewRateLimiter(nil, ratelimit.Policy{Burst: 120, Per: time.Minute})
	requestLimiter.StartCleanupRoutine(ctx, 30*time.Minute, 2*time.Hour)

	registry := usecase.NewSessionRegistry(ctx, usecase.SessionDeps{
		Conversations: backend.Conversations,
		Messages:      backend.Messages,
		Storage:       backend.Storage,
		Feed:          backend.Feed,
		Limiter:       actionLimiter,
		Limits: usecase.SendLimits{
			MaxAttachments:       cfg.MaxAttachments,
			MaxAttachmentBytes:   cfg.MaxAttachmentBytes,
			CleanupFailedUploads: cfg.CleanupFailedUploads,
		},
	})
	defer registry.Shutdown()

	wsManager := websocket.NewManager()
	wsManager.Start(ctx)

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.Validator = api.NewValidator()

	authMiddleware := apimiddleware.NewAuthMiddleware(backend.Verifier)

	router.Setup(e, router.Handlers{
		Chat:      handler.NewChatHandler(registry),
		WebSocket: handler.NewWebSocketHandler(wsManager, registry),
		Health:    handler.NewHealthHandler(registry, backend.Name),
	}, authMiddleware, requestLimiter)

	go func() {
		logger.Info("Starting server on port %s...", cfg.ServerPort)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down server: %v", err)
	}
}
