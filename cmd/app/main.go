package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/notepub/internal"
	pkgconfig "github.com/starford/notepub/pkg/config"
)

func loadApp(cmd *cli.Command) (*internal.App, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	app, err := internal.New(internal.WithConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("app init error: %w", err)
	}
	return app, nil
}

func publishAll(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	pub := app.Publisher()
	_, err = pub.PublishAll(ctx, newConsoleReporter(cmd.Root().Writer, cmd.Root().ErrWriter, pub.Settings()))
	return err
}

func publishNote(ctx context.Context, cmd *cli.Command) error {
	notePath := cmd.Args().First()
	if notePath == "" {
		return fmt.Errorf("note path is required")
	}
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	pub := app.Publisher()
	_, err = pub.PublishNote(ctx, notePath, newConsoleReporter(cmd.Root().Writer, cmd.Root().ErrWriter, pub.Settings()))
	return err
}

func watchVault(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := app.Publisher()
	return app.Watch(ctx, newConsoleReporter(cmd.Root().Writer, cmd.Root().ErrWriter, pub.Settings()))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Serve(ctx); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(_ context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.ServeMCP()
}

func history(ctx context.Context, cmd *cli.Command) error {
	app, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	runs, err := app.Ledger().ListRuns(ctx, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, runsTable(runs))
	return err
}

func main() {
	cmd := &cli.Command{
		Name:  "notepub",
		Usage: "Publish flagged Markdown notes to a Nextra site repository on GitHub or GitLab",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "publish",
				Usage: "Publish notes to the configured provider",
				Commands: []*cli.Command{
					{
						Name:   "all",
						Usage:  "Publish every flagged note and delete stale remote files",
						Action: publishAll,
					},
					{
						Name:      "note",
						Usage:     "Publish a single flagged note",
						ArgsUsage: "<vault-relative path>",
						Action:    publishNote,
					},
				},
			},
			{
				Name:   "watch",
				Usage:  "Republish flagged notes as they change",
				Action: watchVault,
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API with SSE progress",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve publish tools over MCP stdio",
				Action: serveMCP,
			},
			{
				Name:  "history",
				Usage: "List recent publish runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Max runs to list",
						Value: 20,
					},
				},
				Action: history,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
