package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"fixmate/internal/infrastructure/ratelimit"
	"fixmate/pkg/logger"
)

const actionRequest = "request"

// RateLimit throttles requests per authenticated user, or per client IP when
// no user is known yet.
func RateLimit(limiter *ratelimit.RateLimiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := UserID(c)
			if key == "" {
				key = "ip:" + c.RealIP()
			}

			allowed, wait := limiter.Allow(key, actionRequest)
			if !allowed {
				logger.Warn("RATE LIMIT: Blocked request from %s (retry in %v)", key, wait)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(wait/time.Second)+1))
				return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
			}
			return next(c)
		}
	}
}
