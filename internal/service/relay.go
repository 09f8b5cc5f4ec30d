package service

import (
	"log/slog"

	"podcast-feed-proxy/internal/allowlist"
	"podcast-feed-proxy/internal/client"
	"podcast-feed-proxy/internal/metrics"
	"podcast-feed-proxy/internal/model"
)

// RelayService fetches allow-listed image URLs on the caller's behalf.
type RelayService struct {
	client  *client.OriginClient
	auth    *Authorizer
	policy  *allowlist.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayService creates a RelayService. The metrics parameter may be nil.
func NewRelayService(c *client.OriginClient, auth *Authorizer, policy *allowlist.Policy, logger *slog.Logger, m *metrics.Metrics) *RelayService {
	return &RelayService{
		client:  c,
		auth:    auth,
		policy:  policy,
		logger:  logger.With("component", "relay_service"),
		metrics: m,
	}
}

// Relay checks the token and the allow-list, in that order, then opens a
// stream to rr.URL. The caller must Close the result.
func (s *RelayService) Relay(rr *model.RelayRequest) (*model.ProxyResult, error) {
	if err := s.auth.Check(rr.Token); err != nil {
		s.record(metrics.ResultUnauthorized)
		return nil, err
	}
	if !s.policy.Allowed(rr.URL) {
		s.record(metrics.ResultForbidden)
		return nil, ErrForbidden
	}

	s.logger.Debug("relaying", "url", rr.URL)

	resp, err := s.client.Get(rr.Ctx, rr.URL)
	if err != nil {
		s.record(metrics.ResultUpstream)
		return nil, &UpstreamError{URL: rr.URL, Err: err}
	}

	s.record(metrics.ResultOK)
	return streamResult(resp), nil
}

func (s *RelayService) record(result string) {
	if s.metrics != nil {
		s.metrics.RelayRequests.WithLabelValues(result).Inc()
	}
}
