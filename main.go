package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/urfave/cli/v2"

	"newsletter-briefing/internal/ai"
	"newsletter-briefing/internal/config"
	"newsletter-briefing/internal/gmail"
	"newsletter-briefing/internal/logger"
	"newsletter-briefing/internal/repository"
	"newsletter-briefing/internal/repository/postgres"
	"newsletter-briefing/internal/repository/sqlite"
	"newsletter-briefing/internal/service"
	"newsletter-briefing/internal/tokenizer"
)

func main() {
	app := &cli.App{
		Name:  "newsletter-briefing",
		Usage: "triage unread newsletters and email a synthesized briefing",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			{
				Name:   "setup",
				Usage:  "authorize Gmail access and cache the OAuth token",
				Action: setupAction,
			},
			{
				Name:  "run",
				Usage: "fetch, triage, extract and synthesize, then deliver the briefing",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "print the briefing instead of sending it; no mailbox or state changes"},
					&cli.StringFlag{Name: "output", Usage: "write the markdown briefing to `FILE` (and an HTML preview next to it); implies --dry-run"},
					&cli.StringFlag{Name: "dump-emails", Usage: "write the fetched email list to `FILE`"},
					&cli.StringFlag{Name: "dump-triage", Usage: "write triage verdicts to `FILE`"},
					&cli.IntFlag{Name: "lookback-days", Usage: "fetch the last `N` days instead of resuming from the last run"},
				},
				Action: runAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func setupAction(c *cli.Context) error {
	appLogger := logger.New(c.Bool("verbose"))

	cfg, err := loadConfig()
	if err != nil {
		return cli.Exit(err, 1)
	}

	oauthConfig, err := gmail.LoadOAuthConfig(cfg.CredentialsPath)
	if err != nil {
		return cli.Exit(err, 1)
	}

	tok, err := gmail.Authorize(c.Context, oauthConfig, cfg.OAuthListenAddr, func(authURL string) {
		fmt.Println("Open the following URL in your browser to authorize access:")
		fmt.Println()
		fmt.Println("  " + authURL)
		fmt.Println()
	}, appLogger)
	if err != nil {
		return cli.Exit(fmt.Errorf("authorization failed: %w", err), 1)
	}

	if err := gmail.SaveToken(cfg.TokenPath, tok); err != nil {
		return cli.Exit(err, 1)
	}

	dir, _ := filepath.Abs(filepath.Dir(cfg.CredentialsPath))
	fmt.Printf("Authentication successful. Token saved to %s.\n\n", cfg.TokenPath)
	fmt.Println("Suggested cron entry (twice daily at 7 AM and 7 PM):")
	fmt.Printf("  0 7,19 * * * cd %s && newsletter-briefing run >> /tmp/newsletter-briefing.log 2>&1\n", dir)
	return nil
}

func runAction(c *cli.Context) error {
	appLogger := logger.New(c.Bool("verbose"))

	cfg, err := loadConfig()
	if err != nil {
		return cli.Exit(err, 1)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Errorf("config validation failed: %w", err), 1)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runPipeline(ctx, c, cfg, appLogger); err != nil {
		appLogger.Error("Pipeline failed:", err)
		return cli.Exit("", 1)
	}
	return nil
}

// runPipeline wires the collaborators for one run. The state store is closed
// on every return path.
func runPipeline(ctx context.Context, c *cli.Context, cfg *config.Config, appLogger *logger.Logger) error {
	state, err := openStateRepository(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := state.Close(); err != nil {
			appLogger.Error("Failed to close state store:", err)
		}
	}()

	httpClient, err := gmail.NewHTTPClient(ctx, cfg.CredentialsPath, cfg.TokenPath, appLogger)
	if err != nil {
		return err
	}
	gmailClient, err := gmail.NewGmailClient(ctx, httpClient, cfg.RecipientEmail, appLogger)
	if err != nil {
		return err
	}

	aiClient, err := ai.NewAIClient(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	tok, err := tokenizer.New()
	if err != nil {
		return err
	}

	summarizer := service.NewChunkSummarizer(aiClient, tok, appLogger)
	pipeline := service.NewPipelineService(
		cfg,
		gmailClient,
		state,
		service.NewTriageService(aiClient, cfg, appLogger),
		service.NewExtractionService(
			service.NewArticleFetcher(cfg.LinkFetchTimeout, appLogger),
			summarizer,
			tok,
			cfg.TokenBudget,
			appLogger,
		),
		service.NewSynthesisService(aiClient, cfg.MaxSynthesisItems, appLogger),
		appLogger,
	)

	opts := service.RunOptions{
		DryRun:         c.Bool("dry-run"),
		OutputPath:     c.String("output"),
		DumpEmailsPath: c.String("dump-emails"),
		DumpTriagePath: c.String("dump-triage"),
		Stdout:         os.Stdout,
	}
	if c.IsSet("lookback-days") {
		days := c.Int("lookback-days")
		opts.LookbackDays = &days
	}

	return pipeline.Run(ctx, opts)
}

func openStateRepository(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) (repository.StateRepository, error) {
	if cfg.DatabaseURL != "" {
		repo, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		appLogger.Info("Using PostgreSQL state store")
		return repo, nil
	}

	repo, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	appLogger.Info("Using SQLite state store at", cfg.DBPath)
	return repo, nil
}
