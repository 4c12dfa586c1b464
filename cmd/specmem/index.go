package main

import (
	"context"
	"fmt"

	"github.com/jonhardwick-spec/specmem-sub022/internal/codeindex"
	"github.com/spf13/cobra"
)

func buildIndexCmd() *cobra.Command {
	var (
		configPath  string
		projectPath string
	)
	cmd := &cobra.Command{
		Use:   "index [root-dir]",
		Short: "Scan a source tree and index its definitions for semantic search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), configPath, projectPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "specmem.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&projectPath, "project", "p", "", "Project path (defaults to the config file's project_path)")
	return cmd
}

func runIndex(ctx context.Context, configPath, projectPath, rootDir string) error {
	e, err := bootstrap(ctx, configPath, projectPath)
	if err != nil {
		return err
	}
	defer e.Close()

	stats, err := e.indexer.Scan(ctx, rootDir, e.projectCtx.ProjectPath(), codeindex.Options{})
	if err != nil {
		return err
	}
	fmt.Printf("scanned %d files (%d skipped, %d unchanged), indexed %d definitions\n",
		stats.FilesScanned, stats.FilesSkipped, stats.FilesUnchanged, stats.Definitions)
	return nil
}
