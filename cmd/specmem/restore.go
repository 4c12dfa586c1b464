package main

import (
	"context"
	"fmt"

	"github.com/jonhardwick-spec/specmem-sub022/internal/restoration"
	"github.com/spf13/cobra"
)

func buildRestoreCmd() *cobra.Command {
	var (
		configPath  string
		projectPath string
		chunkSize   int
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Expand unprocessed context-restoration summaries into individual turn memories",
		Long: `Scans stored memories for context-restoration summaries (chat transcripts
embedded by an upstream tool), extracts their conversational turns, and
inserts each turn as its own memory so later search and recall see
individual exchanges rather than one opaque blob.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd.Context(), configPath, projectPath, chunkSize)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "specmem.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&projectPath, "project", "p", "", "Project path (defaults to the config file's project_path)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Turns processed per chunk before the inter-chunk delay (0 uses the default)")
	return cmd
}

func runRestore(ctx context.Context, configPath, projectPath string, chunkSize int) error {
	e, err := bootstrap(ctx, configPath, projectPath)
	if err != nil {
		return err
	}
	defer e.Close()

	opts := restoration.Options{
		CurrentProjectPath: e.projectCtx.ProjectPath(),
		ChunkSize:          chunkSize,
	}
	progress, err := e.restorer.Process(ctx, opts, func(p restoration.Progress) {
		e.log.Info(ctx, "restoration progress",
			"sources_scanned", p.SourcesScanned,
			"turns_inserted", p.TurnsInserted,
			"turns_skipped", p.TurnsSkipped,
			"summaries_unextractable", p.SummariesUnextractable,
			"cross_project_skipped", p.CrossProjectSkipped)
	})
	if err != nil {
		return err
	}

	fmt.Printf("scanned %d summaries, inserted %d turns (%d skipped, %d unextractable, %d cross-project)\n",
		progress.SourcesScanned, progress.TurnsInserted, progress.TurnsSkipped,
		progress.SummariesUnextractable, progress.CrossProjectSkipped)
	return nil
}
