package main

import (
	"fmt"

	"jardeploy/internal/security"
	"jardeploy/pkg/templates"

	"github.com/spf13/cobra"
)

var initDir string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default manifests and a sample configuration",
	Long: `Write the manifest fragments, the META-INF/services descriptor merged
into every application jar and config_sample.yml into the config
directory. Existing files are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "dir", "config", "Config directory to populate")
}

func runInit(cmd *cobra.Command, args []string) error {
	secret, err := security.GenerateSecret()
	if err != nil {
		return err
	}

	results, err := templates.Bootstrap(initDir, templates.TemplateData{"WEBHOOK_SECRET": secret})
	out := cmd.OutOrStdout()
	for _, r := range results {
		state := "exists"
		if r.Written {
			state = "created"
		}
		fmt.Fprintf(out, "  %-8s %s\n", state, r.Path)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nNext:\n\n    cp %s/config_sample.yml %s/config.yml\n\nand edit appropriately.\n", initDir, initDir)
	return nil
}
