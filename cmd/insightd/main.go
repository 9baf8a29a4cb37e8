// Insightd is the research-signal catalog daemon.
//
// It ingests extracted signals over HTTP, deduplicates them into an
// evidence-backed candidate catalog, and periodically discovers
// recurring patterns worth promoting into approved entities.
//
// Usage:
//
//	# Start the daemon with defaults
//	insightd serve
//
//	# Use a config file and override via environment
//	INSIGHTD_SERVER_PORT=9280 insightd serve --config insightd.yaml
//
//	# Trigger a discovery run against a running daemon
//	insightd discover --scope product-a
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the optional YAML config file, shared by subcommands.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "insightd",
	Short: "Research-signal catalog and pattern discovery daemon",
	Long: `insightd maintains a deduplicated catalog of insight candidates built
from research signals (arxiv, github, hackernews, reddit, rss) and
periodically clusters the population to surface recurring patterns for
review and promotion.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("insightd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}
