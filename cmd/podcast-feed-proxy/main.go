package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"podcast-feed-proxy/internal/allowlist"
	"podcast-feed-proxy/internal/client"
	"podcast-feed-proxy/internal/config"
	"podcast-feed-proxy/internal/handler"
	"podcast-feed-proxy/internal/metrics"
	"podcast-feed-proxy/internal/middleware"
	"podcast-feed-proxy/internal/rewrite"
	"podcast-feed-proxy/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("podcast-feed-proxy"),
		kong.Description("Rewriting proxy for a podcast RSS feed and its media."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newOriginClient,
			allowlist.New,
			rewrite.New,
			service.NewAuthorizer,
			service.NewProxyService,
			service.NewRelayService,
			handler.NewProxyHandler,
			handler.NewRelayHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

// newOriginClient records upstream metrics only when metrics are exposed.
func newOriginClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *client.OriginClient {
	if !cfg.Metrics.Enabled {
		m = nil
	}
	return client.NewOriginClient(cfg, logger, m)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// No write timeout: episode downloads can legitimately take a long time.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit.RequestsPerSecond, logger))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"old_base", cfg.Feed.OldBase,
				"new_base", cfg.Feed.NewBase,
				"token_required", cfg.Auth.TokenRequired(),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
