package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "gh-run-purge",
		Short: "Delete GitHub Actions workflow runs in bulk",
		Long: `gh-run-purge deletes GitHub Actions workflow runs matching one or more
statuses. It watches the API quota, hibernates until the quota resets when
it runs low, and backs off when GitHub reports a secondary rate limit.

Authentication and repository detection are handled by the gh CLI.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runPurge,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
