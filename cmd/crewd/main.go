// Package main is the CLI entry point for crewd, the agent execution
// harness daemon.
//
// Start the daemon:
//
//	crewd serve --config crew.yaml --fleet fleet.json
//
// Run database migrations:
//
//	crewd migrate --config crew.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "crewd",
		Short:         "Agent execution harness daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildMigrateCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("crewd %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
