// Package service implements the feed proxy and image relay logic.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"podcast-feed-proxy/internal/client"
	"podcast-feed-proxy/internal/config"
	"podcast-feed-proxy/internal/metrics"
	"podcast-feed-proxy/internal/model"
	"podcast-feed-proxy/internal/rewrite"
)

const (
	// feedContentType is the exact origin content type that selects rewriting.
	feedContentType = "application/rss+xml; charset=utf-8"
	// rewrittenContentType is sent with rewritten feeds.
	rewrittenContentType = "application/rss+xml"
	// defaultContentType is sent when upstream omits Content-Type.
	defaultContentType = "application/plaintext"
)

// ProxyService forwards requests to the origin, rewriting RSS feeds and
// streaming everything else unmodified.
type ProxyService struct {
	client   *client.OriginClient
	auth     *Authorizer
	rewriter *rewrite.Rewriter
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter may be nil.
func NewProxyService(c *client.OriginClient, auth *Authorizer, rw *rewrite.Rewriter, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:   c,
		auth:     auth,
		rewriter: rw,
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Forward serves pr from the origin. A HEAD request decides the mode: feeds
// with the RSS content type are fetched in full and rewritten, anything else
// is returned as an open stream. The caller must Close the result.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResult, error) {
	if err := s.auth.Check(pr.Token); err != nil {
		s.record(metrics.ResultUnauthorized)
		return nil, err
	}

	originURL := s.cfg.Feed.OldBase + pr.Path

	head, err := s.client.Head(pr.Ctx, originURL)
	if err != nil {
		s.record(metrics.ResultUpstream)
		return nil, &UpstreamError{URL: originURL, Err: err}
	}
	_ = head.Body.Close()
	contentType := head.Header.Get("Content-Type")

	s.logger.Debug("origin probed",
		"path", pr.Path,
		"content_type", contentType,
		"status", head.StatusCode,
	)

	if contentType == feedContentType {
		return s.rewriteFeed(pr.Ctx, originURL)
	}
	return s.passthrough(pr.Ctx, originURL)
}

func (s *ProxyService) rewriteFeed(ctx context.Context, originURL string) (*model.ProxyResult, error) {
	resp, err := s.client.Get(ctx, originURL)
	if err != nil {
		s.record(metrics.ResultUpstream)
		return nil, &UpstreamError{URL: originURL, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.record(metrics.ResultUpstream)
		return nil, &UpstreamError{URL: originURL, StatusCode: resp.StatusCode}
	}

	body, err := readLimited(resp.Body, s.cfg.Feed.MaxBytes)
	if err != nil {
		s.record(metrics.ResultUpstream)
		return nil, &UpstreamError{URL: originURL, Err: err}
	}

	out, err := s.rewriter.RewriteBytes(body)
	if err != nil {
		s.record(metrics.ResultParseError)
		return nil, fmt.Errorf("rewrite %s: %w", originURL, err)
	}

	s.record(metrics.ResultOK)
	if s.metrics != nil {
		s.metrics.FeedBytes.Observe(float64(len(out)))
	}

	return &model.ProxyResult{
		StatusCode:  resp.StatusCode,
		ContentType: rewrittenContentType,
		Body:        out,
	}, nil
}

func (s *ProxyService) passthrough(ctx context.Context, originURL string) (*model.ProxyResult, error) {
	resp, err := s.client.Get(ctx, originURL)
	if err != nil {
		s.record(metrics.ResultUpstream)
		return nil, &UpstreamError{URL: originURL, Err: err}
	}

	s.record(metrics.ResultPassthrough)
	return streamResult(resp), nil
}

func (s *ProxyService) record(result string) {
	if s.metrics != nil {
		s.metrics.ProxyRequests.WithLabelValues(result).Inc()
	}
}

// streamResult wraps an upstream response for unmodified streaming.
func streamResult(resp *model.UpstreamResponse) *model.ProxyResult {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	return &model.ProxyResult{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Stream:      resp.Body,
	}
}

// readLimited reads all of r, failing with ErrFeedTooLarge past limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrFeedTooLarge
	}
	return body, nil
}
