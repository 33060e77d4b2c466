package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
)

func newDebugCmd(newClient func() *apiclient.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Run and inspect multi-agent debug fan-outs",
	}
	cmd.AddCommand(newDebugStartCmd(newClient))
	cmd.AddCommand(newDebugStatusCmd(newClient))
	cmd.AddCommand(newDebugOrchestrateCmd(newClient))
	return cmd
}

func newDebugStartCmd(newClient func() *apiclient.Client) *cobra.Command {
	var agentType, taskPath, title string
	var count int
	var models []string

	cmd := &cobra.Command{
		Use:   "start <prompt>",
		Short: "Spawn N agents against the same prompt under one debug run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().DebugWithAgents(context.Background(), apiclient.DebugWithAgentsRequest{
				Prompt:    args[0],
				TaskPath:  taskPath,
				Title:     title,
				AgentType: agentType,
				Count:     count,
				Models:    models,
			})
			if err != nil {
				return fmt.Errorf("starting debug run: %w", err)
			}
			fmt.Printf("debug run %s\n", resp.DebugRunID)
			for _, id := range resp.SessionIDs {
				fmt.Printf("  %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&agentType, "agent", "", "agent type for every sibling")
	cmd.Flags().StringVar(&taskPath, "task", "", "task file path")
	cmd.Flags().StringVar(&title, "title", "", "shared title prefix")
	cmd.Flags().IntVar(&count, "count", 3, "number of sibling agents to spawn")
	cmd.Flags().StringSliceVar(&models, "model", nil, "per-sibling model override, in order")
	return cmd
}

func newDebugStatusCmd(newClient func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status <debugRunId>",
		Short: "Show every sibling session's status for a debug run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := newClient().GetDebugRunStatus(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("getting debug run status: %w", err)
			}
			for _, s := range status.Sessions {
				fmt.Printf("%s\t%s\t%s\n", s.ID, s.Status, s.Title)
			}
			fmt.Printf("all terminal: %t\n", status.AllTerminal)
			return nil
		},
	}
}

func newDebugOrchestrateCmd(newClient func() *apiclient.Client) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "orchestrate <debugRunId>",
		Short: "Synthesize every sibling's output into one summary session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().OrchestrateDebugRun(context.Background(), args[0], force)
			if err != nil {
				return fmt.Errorf("orchestrating debug run: %w", err)
			}
			fmt.Printf("orchestrator session %s (%s)\n", resp.SessionID, resp.Status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "spawn a new orchestrator session even if one already exists")
	return cmd
}
