package main

import (
	"fmt"
	"os"

	"jardeploy/internal/history"

	"github.com/spf13/cobra"
)

var skipPack bool

var deployCmd = &cobra.Command{
	Use:   "deploy [PROJECT]",
	Short: "Build and deploy projects",
	Long: `Build every registered project (or just PROJECT), copy each jar into the
deploy tree under a version-stamped name, then pack and sign it.

A failing project never stops the others. Exit status is 0 when every
project succeeded, 3 when some failed and 4 when all failed.`,
	Example: `  jardeploy deploy
  jardeploy deploy otrunk -c config/config.yml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&skipPack, "skip-pack", false, "Copy jars without packing or signing them")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, registry, err := loadConfig()
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	projects, err := registry.Select(name)
	if err != nil {
		return configError(err)
	}
	if !skipPack {
		if err := cfg.RequireSigning(projects); err != nil {
			return configError(err)
		}
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
	if hist != nil {
		defer hist.Close()
	}

	ctx, stop := signalContext()
	defer stop()

	pipeline := newPipeline(cfg, hist, logger, pipelineOptions{
		runID:    history.NewRunID(),
		trigger:  history.TriggerCLI,
		skipPack: skipPack,
		output:   os.Stdout,
	})
	summary := pipeline.Run(ctx, projects)
	summary.Print(cmd.OutOrStdout())

	return summaryError(summary)
}
