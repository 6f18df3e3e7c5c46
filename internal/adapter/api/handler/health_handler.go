package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"fixmate/internal/usecase"
)

type HealthHandler struct {
	registry *usecase.SessionRegistry
	backend  string
}

func NewHealthHandler(registry *usecase.SessionRegistry, backend string) *HealthHandler {
	return &HealthHandler{
		registry: registry,
		backend:  backend,
	}
}

func (h *HealthHandler) CheckHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "Server is running",
		"time":            time.Now().Format(time.RFC3339),
		"backend":         h.backend,
		"active_sessions": h.registry.Len(),
	})
}
