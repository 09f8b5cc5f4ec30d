// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound request for a path on the origin.
type ProxyRequest struct {
	Ctx   context.Context
	Path  string // appended verbatim to the origin base URL
	Token string // shared token supplied by the caller, if any
}

// RelayRequest is an inbound request to relay an image URL.
type RelayRequest struct {
	Ctx   context.Context
	URL   string
	Token string
}

// UpstreamResponse is a response from the origin or a relayed host.
// Body is owned by whoever receives the response and must be closed.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ProxyResult is what the proxy returns to the client. Exactly one of Body
// (a rewritten feed held in memory) and Stream (an unmodified upstream body)
// is set.
type ProxyResult struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Stream      io.ReadCloser
}

// Close releases the upstream stream, if any.
func (r *ProxyResult) Close() error {
	if r.Stream == nil {
		return nil
	}
	return r.Stream.Close()
}
