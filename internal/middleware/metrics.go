package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"podcast-feed-proxy/internal/metrics"
)

// originLabel is the path label shared by every request forwarded to the origin.
const originLabel = "origin"

// routeLabels maps the proxy's own routes to themselves. Matching is exact:
// /cloudfrontx is an origin path, not the relay route.
type routeLabels map[string]struct{}

func newRouteLabels(extra ...string) routeLabels {
	l := make(routeLabels, len(metrics.ProxyRoutes)+len(extra))
	for _, r := range metrics.ProxyRoutes {
		l[r] = struct{}{}
	}
	for _, r := range extra {
		if r != "" {
			l[r] = struct{}{}
		}
	}
	return l
}

// label keeps path label cardinality bounded no matter what clients request.
func (l routeLabels) label(path string) string {
	if _, ok := l[path]; ok {
		return path
	}
	return originLabel
}

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. extraRoutes names additional proxy-owned paths,
// such as the metrics endpoint, that get their own label.
func MetricsMiddleware(m *metrics.Metrics, extraRoutes ...string) echo.MiddlewareFunc {
	labels := newRouteLabels(extraRoutes...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// An *echo.HTTPError is written later by Echo's error handler,
			// so the response status is not final yet.
			statusCode := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					statusCode = he.Code
				}
			}

			status := strconv.Itoa(statusCode)
			method := metrics.NormalizeMethod(c.Request().Method)
			path := labels.label(c.Request().URL.Path)

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
