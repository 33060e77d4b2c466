package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/paths"
)

func initRepo(t *testing.T) string {
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
	return dir
}

func TestEnsureWorktreeCreatesAtDerivedPath(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	m := New(true)
	ctx := context.Background()

	sessionID := "abc123456789"
	path, err := m.EnsureWorktree(ctx, sessionID, repoRoot)
	require.NoError(t, err)
	assert.Equal(t, paths.WorktreePath(repoRoot, sessionID), path)

	_, err = os.Stat(path)
	require.NoError(t, err)

	wt, ok, err := m.Lookup(ctx, repoRoot, sessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, paths.BranchForSession(sessionID), wt.Branch)
}

func TestEnsureWorktreeIsIdempotent(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	m := New(true)
	ctx := context.Background()
	sessionID := "def123456789"

	path1, err := m.EnsureWorktree(ctx, sessionID, repoRoot)
	require.NoError(t, err)
	path2, err := m.EnsureWorktree(ctx, sessionID, repoRoot)
	require.NoError(t, err)
	assert.Equal(t, path1, path2)
}

func TestEnsureWorktreeDisabledIsNoOp(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	m := New(false)

	path, err := m.EnsureWorktree(context.Background(), "abc123456789", repoRoot)
	require.NoError(t, err)
	assert.Equal(t, repoRoot, path)
}

func TestDeleteWorktreeRemovesDirectory(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	m := New(true)
	ctx := context.Background()
	sessionID := "aaa123456789"

	path, err := m.EnsureWorktree(ctx, sessionID, repoRoot)
	require.NoError(t, err)

	require.NoError(t, m.DeleteWorktree(ctx, repoRoot, path, paths.BranchForSession(sessionID), true))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCleanupOrphanedRemovesInactiveSessions(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	m := New(true)
	ctx := context.Background()

	activeID := "111111111111"
	orphanID := "222222222222"
	_, err := m.EnsureWorktree(ctx, activeID, repoRoot)
	require.NoError(t, err)
	_, err = m.EnsureWorktree(ctx, orphanID, repoRoot)
	require.NoError(t, err)

	removed, err := m.CleanupOrphaned(ctx, repoRoot, map[string]bool{activeID: true}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	all, err := m.ListWorktreesDetailed(ctx, repoRoot)
	require.NoError(t, err)
	var ids []string
	for _, wt := range all {
		if wt.SessionID != "" {
			ids = append(ids, wt.SessionID)
		}
	}
	assert.Contains(t, ids, activeID)
	assert.NotContains(t, ids, orphanID)
}

func TestCleanupOrphanedSkipsDirtyWorktrees(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	m := New(true)
	ctx := context.Background()

	orphanID := "333333333333"
	path, err := m.EnsureWorktree(ctx, orphanID, repoRoot)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "dirty.txt"), []byte("uncommitted"), 0o644))

	removed, err := m.CleanupOrphaned(ctx, repoRoot, map[string]bool{}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "dirty orphan must be skipped, not force-removed")
}

func TestBranchForSessionIsPureAndDeterministic(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "agentz/session-abc123456789", paths.BranchForSession("abc123456789"))
	id, ok := paths.SessionIDFromBranch("agentz/session-abc123456789")
	assert.True(t, ok)
	assert.Equal(t, "abc123456789", id)
}
