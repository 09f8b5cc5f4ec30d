package handler

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"podcast-feed-proxy/internal/model"
	"podcast-feed-proxy/internal/service"
)

// RelayHandler serves /cloudfront, fetching an allow-listed image URL.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
	}
}

// Handle relays the url query parameter.
func (h *RelayHandler) Handle(c echo.Context) error {
	rr := &model.RelayRequest{
		Ctx:   c.Request().Context(),
		URL:   c.QueryParam("url"),
		Token: c.QueryParam("token"),
	}

	res, err := h.service.Relay(rr)
	if err != nil {
		return mapError(c, h.logger, err)
	}
	defer func() { _ = res.Close() }()

	return writeResult(c, h.logger, res)
}
