package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
)

func newGetCmd(newClient func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a session's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newClient().Get(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("getting session %s: %w", args[0], err)
			}
			fmt.Printf("id:        %s\n", sess.ID)
			fmt.Printf("title:     %s\n", sess.Title)
			fmt.Printf("status:    %s\n", sess.Status)
			fmt.Printf("agent:     %s (%s)\n", sess.AgentType, sess.Model)
			fmt.Printf("working:   %s\n", sess.WorkingDir)
			if sess.WorktreePath != "" {
				fmt.Printf("worktree:  %s (%s)\n", sess.WorktreePath, sess.WorktreeBranch)
			}
			if sess.TaskPath != "" {
				fmt.Printf("task:      %s\n", sess.TaskPath)
			}
			fmt.Printf("started:   %s\n", sess.StartedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
