package internal

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/notepub/internal/remote/github"
	"github.com/starford/notepub/internal/remote/gitlab"
	"github.com/starford/notepub/internal/sse"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	vault := filepath.Join(dir, "vault")
	if err := os.MkdirAll(vault, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	cfg.Vault.Path = vault
	cfg.SQLite.Path = filepath.Join(dir, "data", "notepub.db")
	cfg.SetDefaults()
	return cfg
}

func testApp(t *testing.T, cfg *Config) *App {
	t.Helper()
	app, err := New(WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestNewMissingVault(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vault.Path = filepath.Join(t.TempDir(), "absent")
	if _, err := New(WithConfig(cfg), WithLogOutput(io.Discard)); err == nil {
		t.Fatal("expected error for missing vault")
	}
}

func TestNewProviderSelection(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := newProvider(cfg, nil, logger)
	if err != nil {
		t.Fatalf("github: %v", err)
	}
	if _, ok := p.(*github.Provider); !ok {
		t.Errorf("provider = %T, want *github.Provider", p)
	}

	cfg.Publish.Provider = "gitlab"
	cfg.GitLab.BaseURL = "https://gitlab.example.com"
	p, err = newProvider(cfg, nil, logger)
	if err != nil {
		t.Fatalf("gitlab: %v", err)
	}
	if _, ok := p.(*gitlab.Provider); !ok {
		t.Errorf("provider = %T, want *gitlab.Provider", p)
	}

	cfg.Publish.Provider = "svn"
	if _, err := newProvider(cfg, nil, logger); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewLoggerWritesJSONAndFile(t *testing.T) {
	var buf bytes.Buffer
	logFile := filepath.Join(t.TempDir(), "notepub.log")
	logger, closer := newLogger(ApplicationConfig{LogLevel: slog.LevelInfo, LogFile: logFile, LogMaxSizeMB: 1}, &buf)
	if closer == nil {
		t.Fatal("expected a closer for the log file")
	}
	logger.Debug("hidden")
	logger.Info("published", slog.Int("total", 3))
	_ = closer.Close()

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if entry["msg"] != "published" || entry["total"] != float64(3) {
		t.Errorf("entry = %v", entry)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"published"`) {
		t.Errorf("log file = %q", data)
	}
}

func TestHandlerRoutes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "s3cret"}
	app := testApp(t, cfg)
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	h := app.Handler(broker)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"live", http.MethodGet, "/health/live", "", http.StatusOK},
		{"ready", http.MethodGet, "/health/ready", "", http.StatusOK},
		{"notes without token", http.MethodGet, "/api/notes", "", http.StatusUnauthorized},
		{"notes", http.MethodGet, "/api/notes", "s3cret", http.StatusOK},
		{"runs", http.MethodGet, "/api/runs", "s3cret", http.StatusOK},
		{"publish without credentials", http.MethodPost, "/api/publish", "s3cret", http.StatusPreconditionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}
