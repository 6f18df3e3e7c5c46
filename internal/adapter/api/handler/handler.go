package handler

import (
	"github.com/labstack/echo/v4"

	"fixmate/internal/adapter/api/middleware"
	"fixmate/internal/usecase"
	"fixmate/pkg/errors"
)

// sessionFor returns the caller's chat session, opening it on first use so
// that a client which skipped the login call still gets one.
func sessionFor(c echo.Context, registry *usecase.SessionRegistry) (*usecase.ChatSession, error) {
	userID := middleware.UserID(c)
	if userID == "" {
		return nil, errors.Unauthorized("Authentication required", nil)
	}
	session, _, err := registry.Open(userID)
	return session, err
}
