package service

import (
	"crypto/subtle"

	"podcast-feed-proxy/internal/config"
)

// Authorizer checks the optional shared token.
type Authorizer struct {
	token string
}

// NewAuthorizer creates an Authorizer. An empty auth.token disables the check.
func NewAuthorizer(cfg *config.Config) *Authorizer {
	return &Authorizer{token: cfg.Auth.Token}
}

// Check returns ErrUnauthorized unless no token is configured or supplied
// equals it exactly.
func (a *Authorizer) Check(supplied string) error {
	if a.token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(a.token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
