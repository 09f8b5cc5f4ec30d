// Package client provides the upstream HTTP client for the origin and relayed hosts.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"podcast-feed-proxy/internal/config"
	"podcast-feed-proxy/internal/metrics"
	"podcast-feed-proxy/internal/model"
)

const userAgent = "podcast-feed-proxy/1.0"

// OriginClient sends HEAD and GET requests upstream. Redirects are followed.
type OriginClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOriginClient creates an OriginClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
//
// upstream.timeout_seconds bounds dialing, the TLS handshake and the wait for
// response headers. There is no overall deadline, since that would cut off
// long media streams; a transfer ends when the inbound request's context is
// canceled.
func NewOriginClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OriginClient {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &OriginClient{
		httpClient: &http.Client{Transport: transport},
		logger:     logger.With("component", "origin_client"),
		metrics:    m,
	}
}

// Head issues a HEAD request. The returned body is empty but must still be closed.
func (c *OriginClient) Head(ctx context.Context, url string) (*model.UpstreamResponse, error) {
	return c.request(ctx, http.MethodHead, url)
}

// Get issues a GET request and returns the body as a stream.
// The caller is responsible for closing it. Canceling ctx aborts the transfer.
func (c *OriginClient) Get(ctx context.Context, url string) (*model.UpstreamResponse, error) {
	return c.request(ctx, http.MethodGet, url)
}

func (c *OriginClient) request(ctx context.Context, method, url string) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	return c.Do(req)
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *OriginClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
			c.metrics.UpstreamResponses.WithLabelValues(method, "error").Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
