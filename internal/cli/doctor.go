package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
)

// stalenessThreshold is the duration after which an active session is
// considered stuck rather than merely long-running.
const stalenessThreshold = 1 * time.Hour

func newDoctorCmd(newClient func() *apiclient.Client) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check agentzd connectivity and fix stuck sessions",
		Long: `Checks that agentzd is reachable, then scans for sessions that have
been active for over an hour with no terminal status. For each stuck
session you can choose to cancel it or leave it alone.

Use --force to cancel every stuck session without prompting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(newClient(), force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "cancel every stuck session without prompting")
	return cmd
}

func runDoctor(client *apiclient.Client, force bool) error {
	ctx := context.Background()

	if err := client.Healthy(ctx); err != nil {
		return fmt.Errorf("agentzd is not reachable: %w", err)
	}
	fmt.Println("agentzd: reachable")

	sessions, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	var stuck []apiclient.Session
	for _, s := range sessions {
		if isStaleActive(s) {
			stuck = append(stuck, s)
		}
	}
	if len(stuck) == 0 {
		fmt.Println("no stuck sessions found")
		return nil
	}

	for _, s := range stuck {
		if !force {
			cancel, err := promptCancelStuckSession(s)
			if err != nil {
				return err
			}
			if !cancel {
				fmt.Printf("skipped %s\n", s.ID)
				continue
			}
		}
		if _, err := client.Cancel(ctx, s.ID); err != nil {
			fmt.Printf("failed to cancel %s: %v\n", s.ID, err)
			continue
		}
		fmt.Printf("cancelled %s\n", s.ID)
	}
	return nil
}

func isStaleActive(s apiclient.Session) bool {
	switch s.Status {
	case "completed", "failed", "cancelled":
		return false
	}
	return time.Since(s.StartedAt) > stalenessThreshold
}

func promptCancelStuckSession(s apiclient.Session) (bool, error) {
	var cancel bool
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Session %s (%s) has been active since %s. Cancel it?", s.ID, s.Title, s.StartedAt.Format(time.RFC3339))).
				Value(&cancel),
		),
	)
	if err := form.Run(); err != nil {
		return false, fmt.Errorf("doctor prompt cancelled: %w", err)
	}
	return cancel, nil
}
