package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UIDKey is the echo.Context key holding the authenticated user id.
const UIDKey = "uid"

// TokenVerifier resolves an ID token to a user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// Authenticate requires "Authorization: Bearer <token>".
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return m.authenticate(next, false)
}

// AuthenticateWebSocket also accepts ?token= since browsers cannot set
// headers on a websocket handshake.
func (m *AuthMiddleware) AuthenticateWebSocket(next echo.HandlerFunc) echo.HandlerFunc {
	return m.authenticate(next, true)
}

func (m *AuthMiddleware) authenticate(next echo.HandlerFunc, allowQuery bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		idToken, err := bearerToken(c.Request().Header.Get("Authorization"))
		if err != nil && allowQuery && c.QueryParam("token") != "" {
			idToken, err = c.QueryParam("token"), nil
		}
		if err != nil {
			return err
		}

		uid, err := m.verifier.VerifyToken(c.Request().Context(), idToken)
		if err != nil || uid == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
		}

		c.Set(UIDKey, uid)
		return next(c)
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization format")
	}
	return parts[1], nil
}

// UserID returns the id set by Authenticate.
func UserID(c echo.Context) string {
	uid, _ := c.Get(UIDKey).(string)
	return uid
}

const devTokenPrefix = "dev-"

// DevTokenVerifier accepts "dev-<uid>" tokens. It is only wired when the
// in-memory backend runs in development.
type DevTokenVerifier struct{}

func (DevTokenVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	if !strings.HasPrefix(token, devTokenPrefix) || len(token) == len(devTokenPrefix) {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Invalid development token")
	}
	return strings.TrimPrefix(token, devTokenPrefix), nil
}
