package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
)

func newListCmd(newClient func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := newClient().List(context.Background())
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			w := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
			defer w.Flush()
			fmt.Fprintln(w, "ID\tSTATUS\tAGENT\tTITLE")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Status, s.AgentType, s.Title)
			}
			return nil
		},
	}
}
