package main

import (
	"fmt"
	"io"

	"jardeploy/internal/deployment"
	"jardeploy/internal/packer"

	"github.com/spf13/cobra"
)

var noSign bool

var packCmd = &cobra.Command{
	Use:   "pack [FILTER]",
	Short: "Pack and re-sign already deployed jars",
	Long: `Run the pack and sign stage over every jar in the deploy tree. FILTER is
a regular expression matched against each jar path; without it every jar
is processed.`,
	Example: `  jardeploy pack
  jardeploy pack 'otrunk' --nosign`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPack,
}

func init() {
	packCmd.Flags().BoolVar(&noSign, "nosign", false, "Repack without stripping, signing or verifying")
}

func runPack(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	sign := !noSign
	if sign {
		if err := cfg.CheckSigning(); err != nil {
			return configError(err)
		}
	}

	filter := ""
	if len(args) == 1 {
		filter = args[0]
	}

	logger, closeLog, err := setupLogging(logFile, false)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer closeLog()
	checkCredentials(cfg, logger)

	ctx, stop := signalContext()
	defer stop()

	results, err := packer.New(cfg, logger).PackTree(ctx, cfg.DeployRoot(), filter, sign)
	if err != nil && len(results) == 0 {
		return err
	}

	failed := printPackResults(cmd.OutOrStdout(), results)
	switch {
	case err != nil:
		return &exitError{code: deployment.ExitError, err: err}
	case failed == 0:
		return nil
	case failed == len(results):
		return &exitError{code: deployment.ExitAllFailed}
	default:
		return &exitError{code: deployment.ExitPartialFailed}
	}
}

// printPackResults writes one line per jar and returns the failure count.
func printPackResults(w io.Writer, results []packer.TreeResult) int {
	failed, verifyFailures := 0, 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(w, "  %-14s %v\n", "failed", r.Err)
		case !r.Result.Verified():
			verifyFailures += len(r.Result.VerifyFailures)
			fmt.Fprintf(w, "  %-14s %s\n", "verify_failed", r.Result.Jar)
			for _, f := range r.Result.VerifyFailures {
				fmt.Fprintf(w, "      *** %s\n", f)
			}
		default:
			fmt.Fprintf(w, "  %-14s %s\n", "success", r.Result.Jar)
		}
	}

	if verifyFailures > 0 {
		fmt.Fprintf(w, "\n%d signature verification failure(s)\n", verifyFailures)
	}
	fmt.Fprintf(w, "\n%d of %d jar(s) failed\n", failed, len(results))
	return failed
}
