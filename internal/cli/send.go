package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
)

func newSendCmd(newClient func() *apiclient.Client) *cobra.Command {
	var attachments []string

	cmd := &cobra.Command{
		Use:   "send <id> <message...>",
		Short: "Send a follow-up message to a finished session, resuming it",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			message := strings.Join(args[1:], " ")

			resp, err := newClient().SendMessage(context.Background(), id, message, attachments)
			if err != nil {
				return fmt.Errorf("sending message to %s: %w", id, err)
			}
			fmt.Printf("spawned resumed session %s (%s)\n", resp.SessionID, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "file paths to attach")
	return cmd
}
