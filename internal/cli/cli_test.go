package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/api"
	"github.com/agentzhq/controlplane/internal/apiclient"
	"github.com/agentzhq/controlplane/internal/config"
	"github.com/agentzhq/controlplane/internal/procmon"
	"github.com/agentzhq/controlplane/internal/services"
)

func stubCommandBuilder(ctx context.Context, cfg procmon.SpawnConfig) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "true"), nil
}

func newTestServer(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial commit")

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.RepoRoot = dir
	cfg.TelemetryOptOut = true

	svc, err := services.New(cfg)
	require.NoError(t, err)
	svc.Monitor = procmon.New(stubCommandBuilder)
	t.Cleanup(func() { _ = svc.Close() })

	srv := httptest.NewServer(api.New(svc))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestSpawnThenListCommands(t *testing.T) {
	t.Setenv("AGENTZ_TELEMETRY_OPTOUT", "1")
	addr := newTestServer(t)
	var client *apiclient.Client
	newClient := func() *apiclient.Client {
		if client == nil {
			client = apiclient.New(addr)
		}
		return client
	}

	spawnCmd := newSpawnCmd(newClient)
	var out bytes.Buffer
	spawnCmd.SetOut(&out)
	spawnCmd.SetArgs([]string{"fix the bug", "--agent", "claude"})
	require.NoError(t, spawnCmd.Execute())

	listCmd := newListCmd(newClient)
	listCmd.SetOut(&out)
	require.NoError(t, listCmd.Execute())
}

func TestGetCommandErrorsOnUnknownSession(t *testing.T) {
	t.Setenv("AGENTZ_TELEMETRY_OPTOUT", "1")
	addr := newTestServer(t)
	newClient := func() *apiclient.Client { return apiclient.New(addr) }

	getCmd := newGetCmd(newClient)
	getCmd.SetArgs([]string{"000000000000"})
	require.Error(t, getCmd.Execute())
}

func TestDoctorReportsNoStuckSessions(t *testing.T) {
	t.Setenv("AGENTZ_TELEMETRY_OPTOUT", "1")
	addr := newTestServer(t)
	newClient := func() *apiclient.Client { return apiclient.New(addr) }

	doctorCmd := newDoctorCmd(newClient)
	require.NoError(t, doctorCmd.Execute())
}
