package apiclient

import (
	"context"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/api"
	"github.com/agentzhq/controlplane/internal/config"
	"github.com/agentzhq/controlplane/internal/procmon"
	"github.com/agentzhq/controlplane/internal/services"
)

func stubCommandBuilder(ctx context.Context, cfg procmon.SpawnConfig) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "true"), nil
}

func newTestServer(t *testing.T) *Client {
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
	return New(srv.URL)
}

func TestSpawnListGetRoundTrip(t *testing.T) {
	t.Parallel()
	client := newTestServer(t)
	ctx := context.Background()

	spawned, err := client.Spawn(ctx, SpawnRequest{Prompt: "fix the bug"})
	require.NoError(t, err)
	require.NotEmpty(t, spawned.SessionID)

	sessions, err := client.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, spawned.SessionID, sessions[0].ID)

	got, err := client.Get(ctx, spawned.SessionID)
	require.NoError(t, err)
	require.Equal(t, spawned.SessionID, got.ID)
}

func TestGetUnknownSessionReturnsAPIError(t *testing.T) {
	t.Parallel()
	client := newTestServer(t)

	_, err := client.Get(context.Background(), "000000000000")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 404, apiErr.StatusCode)
}

func TestCancelThenApproveFails(t *testing.T) {
	t.Parallel()
	client := newTestServer(t)
	ctx := context.Background()

	spawned, err := client.Spawn(ctx, SpawnRequest{Prompt: "fix the bug"})
	require.NoError(t, err)

	cancelled, err := client.Cancel(ctx, spawned.SessionID)
	require.NoError(t, err)
	require.True(t, cancelled.Success)

	_, err = client.Approve(ctx, spawned.SessionID, true)
	require.Error(t, err, "approve must fail once the daemon is no longer live")
}
