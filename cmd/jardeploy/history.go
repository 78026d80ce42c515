package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"jardeploy/internal/history"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyRun   string
)

var historyCmd = &cobra.Command{
	Use:   "history [PROJECT]",
	Short: "Show the deployment ledger",
	Long: `Show recent ledger entries of PROJECT, the latest entry of every project
when PROJECT is omitted, or every entry of one run with --run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Show every entry of this run id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if dbPath == "" {
		return configError(fmt.Errorf("history is disabled (--db is empty)"))
	}

	hist, err := history.NewHistory(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	switch {
	case historyRun != "":
		records, err := hist.GetRun(ctx, historyRun)
		if err != nil {
			return err
		}
		printRecords(out, records)
	case len(args) == 1:
		records, err := hist.GetDeploymentHistory(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		printRecords(out, records)
	default:
		all, err := hist.GetAllProjectsStatus(ctx)
		if err != nil {
			return err
		}
		records := make([]history.DeploymentRecord, 0, len(all))
		for _, r := range all {
			records = append(records, *r)
		}
		sort.Slice(records, func(i, j int) bool { return records[i].Project < records[j].Project })
		printRecords(out, records)
	}
	return nil
}

func printRecords(w io.Writer, records []history.DeploymentRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No deployments recorded")
		return
	}
	for _, r := range records {
		duration := "-"
		if r.DurationSeconds != nil {
			duration = (time.Duration(*r.DurationSeconds * float64(time.Second))).Round(time.Millisecond).String()
		}
		artifact := r.Artifact
		if artifact == "" {
			artifact = "-"
		}
		fmt.Fprintf(w, "%-19s %-14s %-16s %-13s %-8s %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt),
			r.Project, r.Status, duration, artifact)
		if r.ErrorMessage != nil {
			fmt.Fprintf(w, "    %s\n", *r.ErrorMessage)
		}
	}
}
