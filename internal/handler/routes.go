package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"podcast-feed-proxy/internal/config"
	"podcast-feed-proxy/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// Echo prefers static routes over the catch-all, so /cloudfront and the
// /_proxy endpoints shadow origin paths of the same name.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, relay *RelayHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/_proxy/healthz", health.Healthz)
	e.GET("/_proxy/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.GET("/cloudfront", relay.Handle)
	e.GET("/*", proxy.Handle)
}
