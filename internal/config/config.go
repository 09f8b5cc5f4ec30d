// Package config handles configuration loading and validation.
//
// Values come from three layers, later layers winning: built-in defaults, an
// optional TOML or YAML file, and CLI flags bound to environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/podcast-feed-proxy/config.toml",
	"configs/config.toml",
}

// Defaults for the rewrite and relay settings.
const (
	DefaultOldBase          = "https://anchor.fm/"
	DefaultNewBase          = "https://podcast.sotaproject.com/"
	DefaultCloudfrontPrefix = "/staging/podcast_uploaded_"
	DefaultHostSuffix       = ".cloudfront.net"
)

// DefaultExtensions are the image extensions eligible for relay.
var DefaultExtensions = []string{"jpg", "png", "jpeg", "webp"}

// reservedPaths are routes owned by the proxy itself.
var reservedPaths = []string{"/cloudfront", "/_proxy/healthz", "/_proxy/status"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config           string `kong:"short='c',help='Path to TOML or YAML config file.',env='CONFIG_PATH'"`
	Host             string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port             int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel         string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	OldBase          string `kong:"help='Origin base URL; feed URLs starting with it are rewritten.',env='OLD_BASE'"`
	NewBase          string `kong:"help='Public base URL of this proxy.',env='NEW_BASE'"`
	CloudfrontPrefix string `kong:"help='Path prefix an image URL must have to be relayed.',env='CLOUDFRONT_PREFIX'"`
	Token            string `kong:"help='Shared token required on every request (empty disables the check).',env='TOKEN'"`
}

// Config is the top-level application configuration. It is built once at
// startup and shared read-only between requests.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Feed     FeedConfig     `toml:"feed" yaml:"feed"`
	Relay    RelayConfig    `toml:"relay" yaml:"relay"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Upstream UpstreamConfig `toml:"upstream" yaml:"upstream"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Metrics  MetricsConfig  `toml:"metrics" yaml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string          `toml:"host" yaml:"host"`
	Port      int             `toml:"port" yaml:"port"` // 0 means "use default" (8000)
	RateLimit RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second" yaml:"requests_per_second"`
}

// FeedConfig holds the base URLs used when rewriting feeds.
type FeedConfig struct {
	OldBase  string `toml:"old_base" yaml:"old_base"`
	NewBase  string `toml:"new_base" yaml:"new_base"`
	MaxBytes int64  `toml:"max_bytes" yaml:"max_bytes"` // largest feed body read into memory for rewriting
}

// RelayConfig describes which image URLs the /cloudfront relay accepts.
type RelayConfig struct {
	PathPrefix string   `toml:"path_prefix" yaml:"path_prefix"`
	HostSuffix string   `toml:"host_suffix" yaml:"host_suffix"`
	Extensions []string `toml:"extensions" yaml:"extensions"`
}

// AuthConfig holds the optional shared token.
type AuthConfig struct {
	Token string `toml:"token" yaml:"token"`
}

// UpstreamConfig holds origin connection settings.
type UpstreamConfig struct {
	// TimeoutSeconds bounds connection setup and the wait for response
	// headers. Body transfer is bounded only by the inbound request context.
	TimeoutSeconds  int `toml:"timeout_seconds" yaml:"timeout_seconds"`
	IdleConnections int `toml:"idle_connections" yaml:"idle_connections"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Load reads the optional config file and applies CLI/environment overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/podcast-feed-proxy/config.toml then configs/config.toml. A missing
// file is not an error when the path was not given explicitly.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)
	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// decodeFile parses path as YAML when it has a .yaml/.yml extension and as
// TOML otherwise.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.OldBase != "" {
		c.Feed.OldBase = cli.OldBase
	}
	if cli.NewBase != "" {
		c.Feed.NewBase = cli.NewBase
	}
	if cli.CloudfrontPrefix != "" {
		c.Relay.PathPrefix = cli.CloudfrontPrefix
	}
	if cli.Token != "" {
		c.Auth.Token = cli.Token
	}
}

func (c *Config) validate() error {
	if err := validateBase("feed.old_base", c.Feed.OldBase); err != nil {
		return err
	}
	if err := validateBase("feed.new_base", c.Feed.NewBase); err != nil {
		return err
	}

	if !strings.HasPrefix(c.Relay.PathPrefix, "/") {
		return fmt.Errorf("relay.path_prefix must start with '/'; got %q", c.Relay.PathPrefix)
	}
	if !strings.HasPrefix(c.Relay.HostSuffix, ".") {
		return fmt.Errorf("relay.host_suffix must start with '.'; got %q", c.Relay.HostSuffix)
	}
	for _, ext := range c.Relay.Extensions {
		if ext == "" || strings.ContainsAny(ext, "./") {
			return fmt.Errorf("relay.extensions entries must be bare extensions like \"jpg\"; got %q", ext)
		}
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Feed.MaxBytes < 0 {
		return fmt.Errorf("feed.max_bytes must be non-negative; got %d", c.Feed.MaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	if c.Metrics.Enabled {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPaths {
			if p == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// validateBase checks that a base URL is absolute http(s) and ends with a
// slash, since request paths and "cloudfront?" are appended to it verbatim.
func validateBase(field, base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, base)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host; got %q", field, base)
	}
	if !strings.HasSuffix(base, "/") {
		return fmt.Errorf("%s must end with '/'; got %q", field, base)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Feed.OldBase == "" {
		c.Feed.OldBase = DefaultOldBase
	}
	if c.Feed.NewBase == "" {
		c.Feed.NewBase = DefaultNewBase
	}
	if c.Feed.MaxBytes == 0 {
		c.Feed.MaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Relay.PathPrefix == "" {
		c.Relay.PathPrefix = DefaultCloudfrontPrefix
	}
	if c.Relay.HostSuffix == "" {
		c.Relay.HostSuffix = DefaultHostSuffix
	}
	if len(c.Relay.Extensions) == 0 {
		c.Relay.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/_proxy/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TokenRequired reports whether requests must carry the shared token.
func (c *AuthConfig) TokenRequired() bool {
	return c.Token != ""
}

// WarnPermissions logs a warning if the config file holds a token and is
// readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" || c.Auth.Token == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file contains a token and is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
