package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RateLimiter returns a per-client-IP rate limiter backed by Echo's memory
// store. Rejected requests get a JSON 429 body like other proxy errors.
func RateLimiter(rps float64, logger *slog.Logger) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(rps))

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			logger.Warn("rate limit exceeded",
				"remote_ip", identifier,
				"path", c.Request().URL.Path,
			)
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
		},
		ErrorHandler: func(c echo.Context, _ error) error {
			return c.JSON(http.StatusForbidden, map[string]string{
				"error": "cannot identify client",
			})
		},
	})
}
