// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/notepub/internal/api"
	"github.com/starford/notepub/internal/ledger"
	"github.com/starford/notepub/internal/mcpserver"
	"github.com/starford/notepub/internal/noteservice"
	"github.com/starford/notepub/internal/publish"
	"github.com/starford/notepub/internal/remote"
	"github.com/starford/notepub/internal/remote/github"
	"github.com/starford/notepub/internal/remote/gitlab"
	"github.com/starford/notepub/internal/sse"
	"github.com/starford/notepub/internal/storage"
	"github.com/starford/notepub/internal/watch"
)

// App holds the wired components shared by every command.
type App struct {
	cfg       *Config
	logger    *slog.Logger
	logFile   io.Closer
	notes     *noteservice.Service
	ledger    *ledger.DB
	publisher *publish.Publisher
}

// New wires the logger, vault, ledger, provider and publisher.
func New(opts ...Option) (*App, error) {
	a := &application{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(a)
	}
	if a.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := a.config

	logger, logFile := newLogger(cfg.App, a.logOutput)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("provider", cfg.Publish.Provider),
		slog.String("mode", cfg.Publish.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	app := &App{cfg: cfg, logger: logger, logFile: logFile}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	app.notes = noteservice.NewService(store, logger)

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	app.ledger, err = ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	provider, err := newProvider(cfg, a.httpClient, logger)
	if err != nil {
		return nil, fmt.Errorf("init provider: %w", err)
	}
	app.publisher = publish.NewPublisher(cfg.PublishSettings(), app.notes, provider,
		publish.WithRecorder(app.ledger),
		publish.WithLogger(logger))

	ok = true
	return app, nil
}

// Close releases the ledger and the log file.
func (a *App) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("close ledger", slog.String("error", err.Error()))
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// Publisher returns the wired publisher.
func (a *App) Publisher() *publish.Publisher { return a.publisher }

// Ledger returns the publish history.
func (a *App) Ledger() ledger.Ledger { return a.ledger }

// Watch republishes flagged notes as they change until ctx is cancelled.
func (a *App) Watch(ctx context.Context, rep publish.Reporter) error {
	w := watch.New(a.cfg.Vault.Path, a.publisher.Settings().FrontmatterKey, a.notes, a.publisher,
		watch.WithDebounce(a.cfg.Publish.Debounce),
		watch.WithLogger(a.logger),
		watch.WithReporter(rep))
	return w.Run(ctx)
}

// ServeMCP serves the MCP tools on stdin/stdout.
func (a *App) ServeMCP() error {
	return mcpserver.New(a.publisher, a.notes, a.ledger).ServeStdio()
}

// Handler builds the HTTP surface: health probes, the API under /api and
// the SSE progress stream at /api/events.
func (a *App) Handler(broker *sse.Broker) http.Handler {
	h := api.NewHandler(a.publisher, a.notes, a.ledger, broker)
	apiRouter := api.NewRouter(h, a.cfg.Auth.AuthEnabled(), a.cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(api.RequestLogger(a.logger))
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if a.publisher.Running() {
			_, _ = w.Write([]byte(`{"status":"publishing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)
	return r
}

// Serve runs the HTTP server, and the vault watcher when publish.watch is
// set, until ctx is cancelled or a shutdown signal arrives.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	broker := sse.NewBroker(250 * time.Millisecond)
	defer broker.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           a.Handler(broker),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Publish.Watch {
		g.Go(func() error {
			return a.Watch(gCtx, broker)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// Run starts serve mode with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := New(opts...)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Serve(ctx)
}

func newProvider(cfg *Config, httpClient *http.Client, logger *slog.Logger) (remote.Provider, error) {
	switch cfg.Publish.Provider {
	case publish.ProviderGitLab:
		return gitlab.New(gitlab.Config{
			BaseURL:   cfg.GitLab.BaseURL,
			ProjectID: cfg.GitLab.ProjectID,
			Token:     cfg.GitLab.Token,
			Branch:    cfg.GitLab.Branch,
		}, httpClient, gitlab.WithLogger(logger))
	case publish.ProviderGitHub:
		return github.New(github.Config{
			Owner:      cfg.GitHub.Owner,
			Repository: cfg.GitHub.Repository,
			Token:      cfg.GitHub.Token,
			BaseURL:    cfg.GitHub.BaseURL,
			Branch:     cfg.GitHub.Branch,
		}, httpClient, github.WithLogger(logger))
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Publish.Provider)
}

// newLogger builds the JSON logger. When log_file is set, output is
// duplicated into a size-rotated file.
func newLogger(cfg ApplicationConfig, out io.Writer) (*slog.Logger, io.Closer) {
	var closer io.Closer
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAge:     cfg.LogMaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotator)
		closer = rotator
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})), closer
}
