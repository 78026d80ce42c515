package main

import (
	"fmt"
	"time"

	"jardeploy/internal/deployment"
	"jardeploy/internal/history"
	"jardeploy/internal/packer"
	versionpkg "jardeploy/internal/version"

	"github.com/spf13/cobra"
)

var narCmd = &cobra.Command{
	Use:   "deploy-nar",
	Short: "Deploy and re-sign the native-library jars",
	Long: `Copy the pre-built native-library jars (one per platform) from
native_archives.source_dir into native_archives.destination under
version-stamped names, then sign them. Platforms without a jar are
skipped.`,
	Args: cobra.NoArgs,
	RunE: runNar,
}

func runNar(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.CheckSigning(); err != nil {
		return configError(err)
	}

	logger, closeLog, err := setupLogging(logFile, false)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()
	checkCredentials(cfg, logger)

	hist, err := openHistory(logger)
	if err != nil {
		return err
	}

	nar := &deployment.NarDeployer{
		Config:     cfg.NativeArchives,
		DeployRoot: cfg.DeployRoot(),
		Versioner:  versionpkg.New(nil, time.Now()),
		Deployer:   &deployment.Deployer{Logger: logger},
		Packer:     packer.New(cfg, logger),
		Logger:     logger,
		RunID:      history.NewRunID(),
	}
	if hist != nil {
		defer hist.Close()
		nar.History = hist
	}

	ctx, stop := signalContext()
	defer stop()

	summary := nar.Run(ctx)
	summary.Print(cmd.OutOrStdout())

	return summaryError(summary)
}
