package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
)

func newCancelCmd(newClient func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := newClient().Cancel(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("cancelling session %s: %w", args[0], err)
			}
			if resp.Success {
				fmt.Printf("cancelled %s\n", args[0])
			} else {
				fmt.Printf("%s had no live daemon; marked cancelled\n", args[0])
			}
			return nil
		},
	}
}
