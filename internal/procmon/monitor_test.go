package procmon

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/sessionid"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

func sleepCommand(seconds string) CommandFunc {
	return func(ctx context.Context, cfg SpawnConfig) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, "sleep", seconds)
		return cmd, nil
	}
}

func TestSpawnTracksPidAndStartedAt(t *testing.T) {
	t.Parallel()
	m := New(sleepCommand("5"))
	sessionID, err := sessionid.Generate()
	require.NoError(t, err)

	pid, err := m.Spawn(context.Background(), SpawnConfig{SessionID: sessionID, AgentType: workertypes.AgentClaude})
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	info, ok := m.GetDaemon(sessionID)
	require.True(t, ok)
	assert.Equal(t, pid, info.PID)
	assert.WithinDuration(t, time.Now(), info.StartedAt, 2*time.Second)

	assert.True(t, IsProcessRunning(pid))
	require.NoError(t, m.KillDaemon(sessionID))

	// give SIGTERM a moment to land before asserting liveness.
	deadline := time.Now().Add(2 * time.Second)
	for IsProcessRunning(pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.False(t, IsProcessRunning(pid))
}

func TestGetDaemonAbsentForUntrackedSession(t *testing.T) {
	t.Parallel()
	m := New(sleepCommand("1"))
	sessionID, err := sessionid.Generate()
	require.NoError(t, err)

	_, ok := m.GetDaemon(sessionID)
	assert.False(t, ok)
}

func TestUntrackRemovesWithoutSignaling(t *testing.T) {
	t.Parallel()
	m := New(sleepCommand("5"))
	sessionID, err := sessionid.Generate()
	require.NoError(t, err)

	pid, err := m.Spawn(context.Background(), SpawnConfig{SessionID: sessionID, AgentType: workertypes.AgentClaude})
	require.NoError(t, err)

	m.Untrack(sessionID)
	_, ok := m.GetDaemon(sessionID)
	assert.False(t, ok)
	assert.True(t, IsProcessRunning(pid), "untrack must not signal the process")

	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	_ = proc.Signal(syscall.SIGKILL)
}

func TestIsProcessRunningFalseForBogusPid(t *testing.T) {
	t.Parallel()
	assert.False(t, IsProcessRunning(0))
	assert.False(t, IsProcessRunning(-1))
}

func TestSpawnReturnsNotFoundForUnknownAgentType(t *testing.T) {
	t.Parallel()
	m := New(DefaultCommandBuilder(map[workertypes.AgentType]string{}))
	sessionID, err := sessionid.Generate()
	require.NoError(t, err)

	_, err = m.Spawn(context.Background(), SpawnConfig{SessionID: sessionID, AgentType: workertypes.AgentClaude, WorkingDir: t.TempDir()})
	assert.Error(t, err)
}
