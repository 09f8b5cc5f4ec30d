package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"

	"podcast-feed-proxy/internal/rewrite"
	"podcast-feed-proxy/internal/service"
)

// tokenPattern matches token query parameter values in URLs embedded in error messages.
var tokenPattern = regexp.MustCompile(`(?i)(token=)[^&\s"]+`)

// mapError translates a service error into a JSON error response.
func mapError(c echo.Context, logger *slog.Logger, err error) error {
	status, msg := classify(err)

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logger.Log(c.Request().Context(), level, "request failed",
		"err", sanitizeError(err),
		"path", c.Request().URL.Path,
		"status", status,
	)

	return c.JSON(status, map[string]string{"error": msg})
}

func classify(err error) (int, string) {
	if errors.Is(err, service.ErrUnauthorized) {
		return http.StatusUnauthorized, "token missing or invalid"
	}

	if errors.Is(err, service.ErrForbidden) {
		return http.StatusForbidden, "url is not eligible for relay"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, "upstream request timed out"
	}

	if errors.Is(err, context.Canceled) {
		return http.StatusBadGateway, "client disconnected"
	}

	var parseErr *rewrite.ParseError
	if errors.As(err, &parseErr) {
		return http.StatusBadGateway, "upstream feed is not well-formed XML"
	}

	if errors.Is(err, service.ErrFeedTooLarge) {
		return http.StatusBadGateway, "upstream feed is too large"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return http.StatusBadGateway, "upstream host unreachable"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return http.StatusBadGateway, "upstream connection failed"
	}

	var upErr *service.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return http.StatusBadGateway, "upstream returned status " + strconv.Itoa(upErr.StatusCode)
	}

	return http.StatusBadGateway, "upstream request failed"
}

// sanitizeError redacts tokens from error messages that may contain URLs.
func sanitizeError(err error) string {
	return tokenPattern.ReplaceAllString(err.Error(), "${1}[REDACTED]")
}
