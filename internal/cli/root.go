// Package cli implements agentctl: the cobra-based command line front end
// for the orchestrator API (§4.12). Every subcommand talks to a running
// agentzd over HTTP via internal/apiclient; none of them touch the
// repository or git state directly.
package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agentzhq/controlplane/internal/apiclient"
	"github.com/agentzhq/controlplane/internal/config"
	"github.com/agentzhq/controlplane/internal/telemetry"
)

const accessibilityHelp = `
Environment Variables:
  ACCESSIBLE    Set to any value to enable accessibility mode, which uses
                plain sequential text prompts instead of interactive TUI
                elements (works better with screen readers and in CI).
`

// Version is set at build time via -ldflags.
var Version = "dev"

// NewRootCmd builds the agentctl command tree.
func NewRootCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "Control plane CLI for orchestrating coding agent sessions",
		Long:          "agentctl talks to a running agentzd daemon to spawn, inspect, and steer coding agent sessions." + accessibilityHelp,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			accessible, _ := cmd.Flags().GetBool("accessible")
			forceAccessible = accessible
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			trackInvocation(cmd)
		},
	}

	cfg, _ := config.Load()
	cmd.PersistentFlags().StringVar(&addr, "addr", "http://"+cfg.HTTPAddr, "agentzd HTTP address")
	cmd.PersistentFlags().Bool("accessible", false, "use plain sequential prompts instead of the interactive TUI")

	newClient := func() *apiclient.Client { return apiclient.New(addr) }

	cmd.AddCommand(newSpawnCmd(newClient))
	cmd.AddCommand(newListCmd(newClient))
	cmd.AddCommand(newGetCmd(newClient))
	cmd.AddCommand(newCancelCmd(newClient))
	cmd.AddCommand(newApproveCmd(newClient))
	cmd.AddCommand(newSendCmd(newClient))
	cmd.AddCommand(newDebugCmd(newClient))
	cmd.AddCommand(newDoctorCmd(newClient))
	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSendTelemetryCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("agentctl %s\n", Version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// newSendTelemetryCmd registers the hidden subcommand that detached
// telemetry subprocesses invoke (telemetry.SendSubcommand).
func newSendTelemetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:    telemetry.SendSubcommand + " <payload-json>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			telemetry.SendEvent(args[0])
		},
	}
}

// trackInvocation fires a best-effort telemetry event for the command that
// just ran, unless telemetry is disabled (§4.14 applies to agentctl
// invocations the same way it applies to API mutations).
func trackInvocation(cmd *cobra.Command) {
	if cmd.Hidden {
		return
	}
	cfg, err := config.Load()
	if err != nil {
		return
	}
	binaryPath, err := os.Executable()
	if err != nil {
		return
	}
	client := telemetry.New(!cfg.TelemetryOptOut, binaryPath, Version)
	defer client.Close()
	client.TrackEvent("cli_command_executed", map[string]string{"command": cmd.CommandPath()})
}
