package router

import (
	"github.com/labstack/echo/v4"

	"fixmate/internal/adapter/api/handler"
	"fixmate/internal/adapter/api/middleware"
)

// SetupWebSocketRouter mounts the session event stream. The token may come
// from the query string.
func SetupWebSocketRouter(e *echo.Echo, wsHandler *handler.WebSocketHandler, authMiddleware *middleware.AuthMiddleware) {
	e.GET("/v1/ws", wsHandler.HandleWebSocket, authMiddleware.AuthenticateWebSocket)
}
