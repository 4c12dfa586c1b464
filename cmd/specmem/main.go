// Package main provides the CLI entry point for the specmem memory engine.
//
// specmem gives an LLM assistant a per-project, long-running memory store:
// hybrid vector+keyword search, automatic consolidation, context-restoration
// extraction, hot-path prediction, and a codebase index, all exposed through
// a typed tool-call surface.
//
// # Basic Usage
//
// Start the long-running engine for the current project:
//
//	specmem serve --config specmem.yaml
//
// Index a codebase's definitions:
//
//	specmem index ./src
//
// Apply pending schema migrations without starting the server:
//
//	specmem migrate
//
// Expand stored context-restoration summaries into individual turns:
//
//	specmem restore
//
// Invoke a single typed tool operation (for scripting or debugging):
//
//	specmem call search_memory '{"query":"auth flow","project_path":"/srv/widget"}'
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := buildRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "specmem",
		Short: "Per-project long-running memory engine for an LLM assistant",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	cmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildIndexCmd(),
		buildCallCmd(),
		buildRestoreCmd(),
	)
	return cmd
}
