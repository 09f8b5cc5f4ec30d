package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/labstack/echo/v4"

	"podcast-feed-proxy/internal/allowlist"
	"podcast-feed-proxy/internal/client"
	"podcast-feed-proxy/internal/config"
	"podcast-feed-proxy/internal/rewrite"
	"podcast-feed-proxy/internal/service"
)

const testNewBase = "https://podcast.sotaproject.com/"

func testConfig(originURL, token string) *config.Config {
	return &config.Config{
		Feed: config.FeedConfig{
			OldBase:  originURL + "/",
			NewBase:  testNewBase,
			MaxBytes: 1 << 20,
		},
		Relay: config.RelayConfig{
			PathPrefix: config.DefaultCloudfrontPrefix,
			HostSuffix: "127.0.0.1",
			Extensions: config.DefaultExtensions,
		},
		Auth: config.AuthConfig{Token: token},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Metrics: config.MetricsConfig{Path: "/_proxy/metrics"},
	}
}

func newTestHandlers(cfg *config.Config) (*ProxyHandler, *RelayHandler) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	oc := client.NewOriginClient(cfg, logger, nil)
	auth := service.NewAuthorizer(cfg)
	policy := allowlist.New(cfg)
	rw := rewrite.New(cfg, policy)

	proxy := NewProxyHandler(service.NewProxyService(oc, auth, rw, cfg, logger, nil), logger)
	relay := NewRelayHandler(service.NewRelayService(oc, auth, policy, logger, nil), logger)
	return proxy, relay
}

func serve(t *testing.T, h echo.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestProxyHandler_Handle_RewritesFeed(t *testing.T) {
	var upstream *httptest.Server
	upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = io.WriteString(w, `<?xml version="1.0"?><rss version="2.0"><channel><item>`+
			`<enclosure url="`+upstream.URL+`/ep1.mp3" length="1" type="audio/mpeg"/>`+
			`</item></channel></rss>`)
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(testConfig(upstream.URL, ""))
	rec := serve(t, proxy.Handle, "/feed.xml")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/rss+xml" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/rss+xml")
	}
	if want := `url="https://podcast.sotaproject.com/ep1.mp3"`; !strings.Contains(rec.Body.String(), want) {
		t.Errorf("body = %s, want it to contain %s", rec.Body.String(), want)
	}
}

func TestProxyHandler_Handle_StreamsNonFeed(t *testing.T) {
	payload := make([]byte, 3*chunkSize+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	var gets atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/image.png" {
			t.Errorf("upstream path = %q, want /image.png", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/png")
		if r.Method == http.MethodGet {
			gets.Add(1)
			_, _ = w.Write(payload)
		}
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(testConfig(upstream.URL, ""))
	rec := serve(t, proxy.Handle, "/image.png")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want %q", ct, "image/png")
	}
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Errorf("body differs from upstream payload (got %d bytes, want %d)", rec.Body.Len(), len(payload))
	}
	if n := gets.Load(); n != 1 {
		t.Errorf("upstream GETs = %d, want 1", n)
	}
}

func TestProxyHandler_Handle_KeepsEscapedPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); got != "/shows/a%20b/feed.xml" {
			t.Errorf("upstream path = %q, want %q", got, "/shows/a%20b/feed.xml")
		}
		if r.URL.RawQuery != "" {
			t.Errorf("upstream query = %q, want none", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/plain")
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(testConfig(upstream.URL, "s3cret"))
	rec := serve(t, proxy.Handle, "/shows/a%20b/feed.xml?token=s3cret")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestProxyHandler_Handle_Unauthorized(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(testConfig(upstream.URL, "s3cret"))

	for _, target := range []string{"/feed.xml", "/feed.xml?token=wrong"} {
		rec := serve(t, proxy.Handle, target)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want %d", target, rec.Code, http.StatusUnauthorized)
		}
		if errorBody(t, rec) == "" {
			t.Errorf("%s: expected non-empty error message", target)
		}
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("upstream calls = %d, want 0", n)
	}
}

func TestProxyHandler_Handle_MalformedFeed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `<rss><channel><item></channel></rss>`)
		}
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(testConfig(upstream.URL, ""))
	rec := serve(t, proxy.Handle, "/feed.xml")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if strings.Contains(rec.Body.String(), "<rss") {
		t.Errorf("partial feed leaked into error response: %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want JSON", ct)
	}
}

func TestProxyHandler_Handle_UpstreamUnreachable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1", "")
	cfg.Upstream.TimeoutSeconds = 1
	proxy, _ := newTestHandlers(cfg)

	rec := serve(t, proxy.Handle, "/feed.xml")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
	if errorBody(t, rec) == "" {
		t.Error("expected non-empty error message")
	}
}

func TestProxyHandler_Handle_PassthroughStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "not here")
	}))
	defer upstream.Close()

	proxy, _ := newTestHandlers(testConfig(upstream.URL, ""))
	rec := serve(t, proxy.Handle, "/missing")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if rec.Body.String() != "not here" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "not here")
	}
}
