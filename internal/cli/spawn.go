package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

func newSpawnCmd(newClient func() *apiclient.Client) *cobra.Command {
	var agentType, model, title, taskPath string

	cmd := &cobra.Command{
		Use:   "spawn [prompt]",
		Short: "Spawn a new agent session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prompt string
			if len(args) == 1 {
				prompt = args[0]
			}

			if prompt == "" || agentType == "" {
				if err := promptSpawnDetails(&prompt, &agentType); err != nil {
					return err
				}
			}

			resp, err := newClient().Spawn(context.Background(), apiclient.SpawnRequest{
				Prompt:    prompt,
				AgentType: agentType,
				Model:     model,
				Title:     title,
				TaskPath:  taskPath,
			})
			if err != nil {
				return fmt.Errorf("spawning session: %w", err)
			}
			fmt.Printf("spawned session %s (%s)\n", resp.SessionID, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&agentType, "agent", "", "agent type (claude, codex, opencode, cerebras, gemini, mcporter)")
	cmd.Flags().StringVar(&model, "model", "", "model override")
	cmd.Flags().StringVar(&title, "title", "", "session title")
	cmd.Flags().StringVar(&taskPath, "task", "", "task file path this session belongs to")

	return cmd
}

// promptSpawnDetails interactively fills in whatever spawn requires that
// wasn't passed as a flag (§4.12).
func promptSpawnDetails(prompt, agentType *string) error {
	options := make([]huh.Option[string], 0, len(workertypes.ValidAgentTypes))
	for _, t := range workertypes.ValidAgentTypes {
		options = append(options, huh.NewOption(t.String(), t.String()))
	}

	groups := []*huh.Group{}
	if *prompt == "" {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().Title("What should the agent do?").Value(prompt),
		))
	}
	if *agentType == "" {
		groups = append(groups, huh.NewGroup(
			huh.NewSelect[string]().Title("Agent type").Options(options...).Value(agentType),
		))
	}
	if len(groups) == 0 {
		return nil
	}

	form := NewAccessibleForm(groups...)
	if err := form.Run(); err != nil {
		return fmt.Errorf("spawn prompt cancelled: %w", err)
	}
	return nil
}
