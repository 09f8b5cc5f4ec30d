// Package allowlist decides which image URLs the relay endpoint may fetch.
package allowlist

import (
	"net/url"
	"strings"

	"podcast-feed-proxy/internal/config"
)

// Policy accepts a URL only when its path prefix, host suffix and file
// extension all match. Comparisons are case-insensitive.
type Policy struct {
	pathPrefix string
	hostSuffix string
	extensions map[string]bool
}

// New creates a Policy from the relay configuration.
func New(cfg *config.Config) *Policy {
	return NewPolicy(cfg.Relay.PathPrefix, cfg.Relay.HostSuffix, cfg.Relay.Extensions)
}

// NewPolicy creates a Policy from explicit values.
func NewPolicy(pathPrefix, hostSuffix string, extensions []string) *Policy {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Policy{
		pathPrefix: strings.ToLower(pathPrefix),
		hostSuffix: strings.ToLower(hostSuffix),
		extensions: exts,
	}
}

// Allowed reports whether rawURL may be relayed. Malformed URLs are rejected.
func (p *Policy) Allowed(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	path := strings.ToLower(u.Path)
	if !strings.HasPrefix(path, p.pathPrefix) {
		return false
	}
	if !strings.HasSuffix(strings.ToLower(u.Hostname()), p.hostSuffix) {
		return false
	}
	return p.extensions[extension(path)]
}

// extension returns the text after the last dot in path, or "" when there is none.
func extension(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[i+1:]
}
