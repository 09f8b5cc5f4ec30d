package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"podcast-feed-proxy/internal/config"
	"podcast-feed-proxy/internal/metrics"
)

func testConfig(timeout int) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  timeout,
			IdleConnections: 10,
		},
	}
}

func TestOriginClient_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("User-Agent = %q, want %q", ua, userAgent)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewOriginClient(testConfig(10), logger, nil)

	resp, err := c.Get(context.Background(), srv.URL+"/ep1.mp3")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q, want %q", ct, "audio/mpeg")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "mp3-bytes" {
		t.Errorf("body = %q, want %q", string(body), "mp3-bytes")
	}
}

func TestOriginClient_HeadFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %q, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewOriginClient(testConfig(10), logger, nil)

	resp, err := c.Head(context.Background(), srv.URL+"/old")
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/rss+xml; charset=utf-8" {
		t.Errorf("Content-Type = %q, want rss content type from redirect target", ct)
	}
}

func TestOriginClient_Get_Error(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewOriginClient(testConfig(1), logger, nil)

	_, err := c.Get(context.Background(), "http://127.0.0.1:1/nonexistent")
	if err == nil {
		t.Fatal("Get() expected error for unreachable host, got nil")
	}
}

func TestOriginClient_Get_BadURL(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewOriginClient(testConfig(1), logger, nil)

	_, err := c.Get(context.Background(), "http://bad host/")
	if err == nil {
		t.Fatal("Get() expected error for invalid URL, got nil")
	}
}

func TestOriginClient_Get_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewOriginClient(testConfig(30), logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Get(ctx, srv.URL+"/slow")
	if err == nil {
		t.Fatal("Get() expected error for canceled context, got nil")
	}
}

func TestOriginClient_ResponseHeaderTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewOriginClient(testConfig(1), logger, nil)

	start := time.Now()
	_, err := c.Get(context.Background(), srv.URL+"/hang")
	if err == nil {
		t.Fatal("Get() expected timeout error, got nil")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Get() took %v, want it bounded by the 1s header timeout", elapsed)
	}
}

func TestOriginClient_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()
	c := NewOriginClient(testConfig(10), logger, m)

	resp, err := c.Get(context.Background(), srv.URL+"/missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	_ = resp.Body.Close()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, f := range families {
		if f.GetName() != "podcast_proxy_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["method"] == "GET" && labels["status_code"] == "404" {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected podcast_proxy_upstream_responses_total{method=GET,status_code=404}")
	}
}
