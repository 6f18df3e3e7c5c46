package router

import (
	"github.com/labstack/echo/v4"

	"fixmate/internal/adapter/api/handler"
	"fixmate/internal/adapter/api/middleware"
	"fixmate/internal/infrastructure/ratelimit"
)

func SetupChatRouter(e *echo.Echo, chatHandler *handler.ChatHandler, authMiddleware *middleware.AuthMiddleware, limiter *ratelimit.RateLimiter) {
	chatGroup := e.Group("/v1/chat")
	chatGroup.Use(authMiddleware.Authenticate)
	if limiter != nil {
		chatGroup.Use(middleware.RateLimit(limiter))
	}

	// Login / logout hooks
	chatGroup.POST("/session", chatHandler.OpenSession)
	chatGroup.DELETE("/session", chatHandler.CloseSession)

	chatGroup.GET("/conversations", chatHandler.ListConversations)
	chatGroup.POST("/conversations", chatHandler.CreateConversation)
	chatGroup.DELETE("/conversations/active", chatHandler.CloseConversation)

	chatGroup.GET("/conversations/:id/messages", chatHandler.ListMessages)
	chatGroup.POST("/conversations/:id/messages", chatHandler.SendMessage)

	chatGroup.GET("/unread", chatHandler.UnreadTotal)
}
