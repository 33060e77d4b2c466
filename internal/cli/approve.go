package cli

import (
	"context"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
)

func newApproveCmd(newClient func() *apiclient.Client) *cobra.Command {
	var deny bool

	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Respond to a session's pending approval request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			approved := !deny
			if !cmd.Flags().Changed("deny") {
				var err error
				approved, err = promptApproval()
				if err != nil {
					return err
				}
			}

			if _, err := newClient().Approve(context.Background(), args[0], approved); err != nil {
				return fmt.Errorf("recording approval for %s: %w", args[0], err)
			}
			if approved {
				fmt.Printf("approved %s\n", args[0])
			} else {
				fmt.Printf("denied %s\n", args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of approve")
	return cmd
}

func promptApproval() (bool, error) {
	var approved bool
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Approve the pending request?").
				Value(&approved),
		),
	)
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("approval prompt cancelled: %w", err)
	}
	return approved, nil
}
