package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fixmate/internal/infrastructure/ratelimit"
)

type stubVerifier map[string]string

func (s stubVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	uid, ok := s[token]
	if !ok {
		return "", errors.New("invalid token")
	}
	return uid, nil
}

func run(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (string, error) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen string
	err := mw(func(c echo.Context) error {
		seen = UserID(c)
		return nil
	})(c)
	return seen, err
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var httpErr *echo.HTTPError
	require.True(t, errors.As(err, &httpErr), "expected echo.HTTPError, got %v", err)
	return httpErr.Code
}

func TestAuthenticate(t *testing.T) {
	m := NewAuthMiddleware(stubVerifier{"good": "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	uid, err := run(t, m.Authenticate, req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
}

func TestAuthenticate_Rejects(t *testing.T) {
	m := NewAuthMiddleware(stubVerifier{"good": "user-1"})

	cases := map[string]string{
		"missing":      "",
		"wrong scheme": "Basic good",
		"bad token":    "Bearer bad",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			_, err := run(t, m.Authenticate, req)
			assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
		})
	}
}

func TestAuthenticate_QueryTokenOnlyForWebSocket(t *testing.T) {
	m := NewAuthMiddleware(stubVerifier{"good": "user-1"})

	req := httptest.NewRequest(http.MethodGet, "/v1/ws?token=good", nil)
	_, err := run(t, m.Authenticate, req)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	req = httptest.NewRequest(http.MethodGet, "/v1/ws?token=good", nil)
	uid, err := run(t, m.AuthenticateWebSocket, req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewRateLimiter(nil, ratelimit.Policy{Burst: 1, Per: time.Hour})
	mw := RateLimit(limiter)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := run(t, mw, req)
	require.NoError(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = run(t, mw, req)
	assert.Equal(t, http.StatusTooManyRequests, statusOf(t, err))
}

func TestDevTokenVerifier(t *testing.T) {
	uid, err := DevTokenVerifier{}.VerifyToken(context.Background(), "dev-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", uid)

	_, err = DevTokenVerifier{}.VerifyToken(context.Background(), "dev-")
	assert.Error(t, err)
	_, err = DevTokenVerifier{}.VerifyToken(context.Background(), "alice")
	assert.Error(t, err)
}
