// Package middleware provides Echo middleware for logging, security and metrics.
package middleware

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors are logged at error level, client errors at warn level.
// The token query parameter is never logged.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			level := slog.LevelInfo
			switch {
			case res.Status >= http.StatusInternalServerError:
				level = slog.LevelError
			case res.Status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"query", redactQuery(req.URL.RawQuery),
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}

// redactQuery replaces the token value in a raw query string.
func redactQuery(raw string) string {
	if raw == "" {
		return ""
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}
	if q.Has("token") {
		q.Set("token", "[REDACTED]")
	}
	return q.Encode()
}
