package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonhardwick-spec/specmem-sub022/internal/toolsurface"
	"github.com/spf13/cobra"
)

func buildCallCmd() *cobra.Command {
	var (
		configPath  string
		projectPath string
		sessionID   string
	)
	cmd := &cobra.Command{
		Use:   "call [operation] [json-params]",
		Short: "Invoke a single typed tool-call operation and print its JSON result",
		Long: `Invoke one of the memory engine's typed operations directly, bypassing
whatever LLM runtime would normally dispatch it. Useful for scripting and
debugging the tool surface.

Example:

  specmem call search_memory '{"query":"auth flow","project_path":"/srv/widget"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd.Context(), configPath, projectPath, sessionID, args[0], args[1])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "specmem.yaml", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&projectPath, "project", "p", "", "Project path (defaults to the config file's project_path)")
	cmd.Flags().StringVar(&sessionID, "session", "cli", "Session id to scope the drill-down state machine")
	return cmd
}

func runCall(ctx context.Context, configPath, projectPath, sessionID, operation, rawParams string) error {
	e, err := bootstrap(ctx, configPath, projectPath)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := e.surface.Dispatch(ctx, sessionID, toolsurface.Operation(operation), json.RawMessage(rawParams))
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
