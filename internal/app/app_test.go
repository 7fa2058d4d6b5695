package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			_, _ = io.WriteString(w, `{"ok":true}`)
		case "/surveys":
			_, _ = io.WriteString(w, `[{"id":"s1"}]`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, remoteURL string) Config {
	return Config{
		Addr:      "127.0.0.1:0",
		DBPath:    filepath.Join(t.TempDir(), "surveysync.sqlite"),
		RemoteURL: remoteURL,
		APIKeys:   []string{"admin:secret"},
		Threshold: 1,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestNewServerServesFacade(t *testing.T) {
	remote := newRemote(t)
	server, closer, err := NewServer(context.Background(), testConfig(t, remote.URL))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer closer.Close()

	req := httptest.NewRequest(http.MethodGet, "/v1/surveys", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"s1"`) {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), `"online":true`) {
		t.Fatalf("expected online after startup: %s", rec.Body.String())
	}
}

func TestNewServerSendsOneStartupHeartbeat(t *testing.T) {
	var heartbeats atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			heartbeats.Add(1)
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer remote.Close()

	cfg := testConfig(t, remote.URL)
	cfg.ProbeInterval = time.Hour
	_, closer, err := NewServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer closer.Close()

	if got := heartbeats.Load(); got != 1 {
		t.Fatalf("expected one heartbeat at startup, got %d", got)
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	remote := newRemote(t)
	cases := map[string]func(*Config){
		"conflict policy": func(c *Config) { c.ConflictPolicy = "merge" },
		"remote url":      func(c *Config) { c.RemoteURL = "not a url" },
		"token and jwt":   func(c *Config) { c.RemoteToken = "t"; c.JWTSecret = "s" },
		"api key":         func(c *Config) { c.APIKeys = []string{"admin:"} },
	}
	for name, mutate := range cases {
		cfg := testConfig(t, remote.URL)
		mutate(&cfg)
		if _, _, err := NewServer(context.Background(), cfg); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestHeartbeatURL(t *testing.T) {
	if got := heartbeatURL("https://api.example.com/", ""); got != "https://api.example.com/health" {
		t.Fatalf("unexpected default: %s", got)
	}
	if got := heartbeatURL("https://api.example.com/v2", "/ping"); got != "https://api.example.com/v2/ping" {
		t.Fatalf("unexpected url: %s", got)
	}
}
