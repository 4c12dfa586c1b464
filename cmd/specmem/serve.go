package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		projectPath string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the memory engine's background maintenance loop for the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, projectPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "specmem.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&projectPath, "project", "p", "", "Project path (defaults to the config file's project_path)")
	return cmd
}

func runServe(ctx context.Context, configPath, projectPath string) error {
	e, err := bootstrap(ctx, configPath, projectPath)
	if err != nil {
		return err
	}
	defer e.Close()

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.scheduler.Start(runCtx); err != nil {
		return err
	}
	e.log.Info(runCtx, "specmem engine started", "project", e.projectCtx.ProjectPath(), "schema", e.projectCtx.ProjectSchema())

	<-runCtx.Done()
	e.log.Info(context.Background(), "specmem engine shutting down")
	e.scheduler.Stop(context.Background())
	return nil
}
