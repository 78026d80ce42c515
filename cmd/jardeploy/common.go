package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"jardeploy/internal/build"
	"jardeploy/internal/deployment"
	"jardeploy/internal/history"
	"jardeploy/internal/packer"
	"jardeploy/internal/project"
	"jardeploy/internal/security"
	versionpkg "jardeploy/internal/version"
	"jardeploy/pkg/fileutil"
)

var (
	configFile string
	logFile    string
	dbPath     string
	verbose    bool

	// loadedConfig is the path loadConfig read.
	loadedConfig string
)

// loadConfig finds and loads the configuration. Every failure is a
// configuration error (exit status 2).
func loadConfig() (*project.Config, *project.Registry, error) {
	path := configFile
	if path == "" {
		searchPaths := fileutil.DefaultConfigPaths("config.yml")
		path = fileutil.SearchPathsOptional(searchPaths)
		if path == "" {
			fmt.Fprintf(os.Stderr, "No configuration file found in default locations:\n")
			for _, p := range searchPaths {
				fmt.Fprintf(os.Stderr, "  - %s\n", p)
			}
			fmt.Fprintf(os.Stderr, "Use --config to specify a custom location, or run 'jardeploy init'\n")
			return nil, nil, configError(fmt.Errorf("%w: config.yml", project.ErrConfigNotFound))
		}
	}

	cfg, projects, err := project.LoadConfig(path)
	if err != nil {
		return nil, nil, configError(err)
	}
	loadedConfig = path
	return cfg, project.NewRegistry(projects), nil
}

// setupLogging builds the logger of a command. CLI commands log text to
// stderr; serve logs JSON to stdout. When logPath is set the same records
// are appended to that file. The returned func closes the file.
func setupLogging(logPath string, jsonFormat bool) (*slog.Logger, func(), error) {
	var console io.Writer = os.Stderr
	if jsonFormat {
		console = os.Stdout
	}

	out := console
	closeFn := func() {}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		// Open log file with secure permissions
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, security.PermLogFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = io.MultiWriter(console, file)
		closeFn = func() { file.Close() }
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}

// openHistory opens the ledger, or returns nil when --db is empty.
func openHistory(logger *slog.Logger) (*history.History, error) {
	if dbPath == "" {
		logger.Debug("History disabled")
		return nil, nil
	}
	hist, err := history.NewHistory(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	return hist, nil
}

// checkCredentials warns about default-looking keystore passwords and
// about config files readable by everyone.
func checkCredentials(cfg *project.Config, logger *slog.Logger) {
	if cfg.Signing.Password == "" {
		return
	}
	if security.IsWeakPassword(cfg.Signing.Password) {
		logger.Warn("Keystore password looks weak", "alias", cfg.Signing.Alias)
	}
	if loadedConfig != "" {
		if err := security.ValidateSecurePermissions(loadedConfig); err != nil {
			logger.Warn("Config file permissions are too open", "config", loadedConfig, "error", err)
		}
	}
}

// pipelineOptions selects the optional stages of a build-and-deploy run.
type pipelineOptions struct {
	runID    string
	trigger  string
	skipPack bool
	output   io.Writer
}

// newPipeline wires the build-and-deploy stages for one run. The run
// timestamp is taken now and shared by every project of the run.
func newPipeline(cfg *project.Config, hist *history.History, logger *slog.Logger, opts pipelineOptions) *deployment.Pipeline {
	p := &deployment.Pipeline{
		Config:    cfg,
		Builder:   build.NewBuilder(cfg.Tools, logger, opts.output),
		Versioner: versionpkg.New(nil, time.Now()),
		Deployer:  &deployment.Deployer{Logger: logger},
		Logger:    logger,
		RunID:     opts.runID,
		Trigger:   opts.trigger,
	}
	if !opts.skipPack {
		p.Packer = packer.New(cfg, logger)
	}
	// A nil *History stored in the interface would not compare nil.
	if hist != nil {
		p.History = hist
	}
	return p
}

// signalContext is cancelled on SIGINT or SIGTERM. Cancellation kills the
// running tool and marks the remaining projects skipped.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// summaryError converts a finished run into the process exit status.
func summaryError(summary *deployment.Summary) error {
	if code := summary.ExitCode(); code != deployment.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

// Helper functions for environment variables
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
