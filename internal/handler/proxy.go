package handler

import (
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"podcast-feed-proxy/internal/model"
	"podcast-feed-proxy/internal/service"
)

// ProxyHandler forwards any other path to the origin.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle serves the request path from the origin. RSS feeds come back
// rewritten; everything else is streamed unmodified.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	// The escaped form is what the client sent, so the origin sees the same bytes.
	pr := &model.ProxyRequest{
		Ctx:   req.Context(),
		Path:  strings.TrimPrefix(req.URL.EscapedPath(), "/"),
		Token: c.QueryParam("token"),
	}

	res, err := h.service.Forward(pr)
	if err != nil {
		return mapError(c, h.logger, err)
	}
	defer func() { _ = res.Close() }()

	return writeResult(c, h.logger, res)
}
