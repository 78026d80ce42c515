package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"jardeploy/internal/deployment"
	"jardeploy/internal/history"
	"jardeploy/internal/notify"
	"jardeploy/internal/project"
	"jardeploy/internal/security"
	"jardeploy/internal/server"

	"github.com/spf13/cobra"
)

var (
	host     string
	port     int
	testMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the jar tree and the rebuild webhook",
	Long: `Start the HTTP server. It serves the deploy tree under /jnlp/ (with
pack200-gzip negotiation), receives GitHub push webhooks on /in/PROJECT
that rebuild and redeploy the pushed project, and exposes the deployment
ledger on /status.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("JARDEPLOY_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("JARDEPLOY_PORT", 5000), "Port to listen on")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", os.Getenv("JARDEPLOY_TEST_MODE") == "1", "Disable rate limits and history")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, registry, err := loadConfig()
	if err != nil {
		return err
	}

	path := logFile
	if path == "" {
		path = filepath.Join(".", "deployments.log")
	}
	logger, closeLog, err := setupLogging(path, true)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()

	logger.Info("Starting jardeploy", "version", version)
	logger.Info("Configuration loaded", "count", registry.Count(), "deploy_root", cfg.DeployRoot())

	if registry.Count() == 0 {
		logger.Warn("No projects configured; webhooks will be refused")
	}
	if cfg.Webhook.Secret == "" {
		logger.Warn("webhook.secret is empty; webhooks are disabled")
	} else if err := security.ValidateSecret(cfg.Webhook.Secret); err != nil {
		return configError(fmt.Errorf("webhook.secret: %w", err))
	}
	checkCredentials(cfg, logger)

	var hist *history.History
	if !testMode {
		logger.Info("Initializing history database", "db", dbPath)
		if hist, err = openHistory(logger); err != nil {
			logger.Error("Failed to initialize history database", "error", err)
			return err
		}
	}

	srv := server.NewServer(registry, hist, logger, testMode)
	srv.DeployRoot = cfg.DeployRoot()
	srv.Secret = cfg.Webhook.Secret
	srv.Reporter = notify.NewReporter(cfg.Webhook.GitHubToken, logger)
	srv.Run = webhookRunner(cfg, hist, logger)

	ctx, stop := signalContext()
	defer stop()

	if err := srv.Start(ctx, host, port); err != nil && ctx.Err() == nil {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// webhookRunner builds a fresh pipeline per triggered run so every run
// gets its own timestamp.
func webhookRunner(cfg *project.Config, hist *history.History, base *slog.Logger) server.RunFunc {
	return func(ctx context.Context, proj *project.Project, runID string) *deployment.Summary {
		logger := base.With("run_id", runID)
		projects := []*project.Project{proj}

		if err := cfg.RequireSigning(projects); err != nil {
			logger.Error("Refusing run", "project", proj.Name, "error", err)
			return &deployment.Summary{RunID: runID, Projects: []deployment.ProjectReport{{
				Project: proj.Name,
				Status:  history.StatusFailed,
				Err:     err,
			}}}
		}

		pipeline := newPipeline(cfg, hist, logger, pipelineOptions{
			runID:   runID,
			trigger: history.TriggerWebhook,
		})
		return pipeline.Run(ctx, projects)
	}
}
