package main

import (
	"context"

	"github.com/spf13/cobra"
)

func buildMigrateCmd() *cobra.Command {
	var (
		configPath  string
		projectPath string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the project schema and apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath, projectPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "specmem.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&projectPath, "project", "p", "", "Project path (defaults to the config file's project_path)")
	return cmd
}

func runMigrate(ctx context.Context, configPath, projectPath string) error {
	e, err := bootstrap(ctx, configPath, projectPath)
	if err != nil {
		return err
	}
	defer e.Close()
	e.log.Info(ctx, "schema ready", "schema", e.projectCtx.ProjectSchema())
	return nil
}
