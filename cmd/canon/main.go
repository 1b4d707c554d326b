// Package main is the canon CLI: the chat gateway and the indexing worker
// behind the author assistant.
//
// Basic usage:
//
//	canon serve --config canon.yaml
//	canon worker --config canon.yaml
//	canon version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "canon",
		Short:        "canon - author assistant gateway and indexing worker",
		Long:         "canon serves streaming assistant conversations and keeps each author's knowledge index in sync with their documents.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildWorkerCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}
