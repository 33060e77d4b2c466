package gitservice

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runInit := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	runInit("init", "-b", "main")
	runInit("config", "user.email", "test@example.com")
	runInit("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi\n"), 0o644))
	runInit("add", "README.md")
	runInit("commit", "-m", "initial commit")
	return dir
}

func TestStatusReportsModifiedAndUntracked(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi\nmore\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("new\n"), 0o644))

	result, err := Status(context.Background(), dir)
	require.NoError(t, err)
	assert.Contains(t, result.Modified, "README.md")
	assert.Contains(t, result.Untracked, "new.txt")
}

func TestCommitScopedStagesOnlyGivenFiles(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b\n"), 0o644))

	hash, err := CommitScoped(context.Background(), dir, []string{"a.txt"}, "add a")
	require.NoError(t, err)
	assert.Len(t, hash, 7)

	result, err := Status(context.Background(), dir)
	require.NoError(t, err)
	assert.Contains(t, result.Untracked, "b.txt")
	assert.NotContains(t, result.Staged, "b.txt")
}

func TestCommitScopedRejectsPathEscape(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)

	_, err := CommitScoped(context.Background(), dir, []string{"../../etc/passwd"}, "evil")
	assert.Error(t, err, "P7: a path escaping the repo root must be refused before git is invoked")
}

func TestMergeBranchNoFFAndReturnsToCaller(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	ctx := context.Background()

	_, err := runGit(ctx, dir, "checkout", "-b", "feature")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("x\n"), 0o644))
	_, err = CommitScoped(ctx, dir, []string{"feature.txt"}, "feature work")
	require.NoError(t, err)

	_, err = runGit(ctx, dir, "checkout", "main")
	require.NoError(t, err)

	result, err := MergeBranch(ctx, dir, "main", "feature")
	require.NoError(t, err)
	assert.False(t, result.HasConflicts)
	assert.Len(t, result.MergeCommitHash, 40)

	branch, err := currentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch, "P8: current branch must return to the caller's starting branch")

	parents, err := runGit(ctx, dir, "log", "-1", "--format=%P", result.MergeCommitHash)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(string(parents)), 2, "P8: merge commit must have exactly two parents")
}

func TestMergeBranchConflictAborts(t *testing.T) {
	t.Parallel()
	dir := initRepo(t)
	ctx := context.Background()

	_, err := runGit(ctx, dir, "checkout", "-b", "feature")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi\nfeature change\n"), 0o644))
	_, err = CommitScoped(ctx, dir, []string{"README.md"}, "conflicting change on feature")
	require.NoError(t, err)

	require.NoError(t, runGitRaw(t, dir, "checkout", "main"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi\nmain change\n"), 0o644))
	_, err = CommitScoped(ctx, dir, []string{"README.md"}, "conflicting change on main")
	require.NoError(t, err)

	result, err := MergeBranch(ctx, dir, "main", "feature")
	require.NoError(t, err)
	assert.True(t, result.HasConflicts)

	branch, err := currentBranch(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)

	status, err := Status(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, status.Staged, "merge --abort must leave no conflict markers staged")
}

func TestValidateBranchRejectsUnsafeNames(t *testing.T) {
	t.Parallel()
	assert.Error(t, validateBranch("-evil"))
	assert.Error(t, validateBranch("..escape"))
	assert.Error(t, validateBranch("has space"))
	assert.NoError(t, validateBranch("agentz/session-abc123456789"))
}

func runGitRaw(t *testing.T, dir string, args ...string) error {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Logf("git %v: %s", args, out)
	}
	return err
}
