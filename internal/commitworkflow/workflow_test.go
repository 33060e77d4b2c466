package commitworkflow

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/session"
	"github.com/agentzhq/controlplane/internal/taskstore"
	"github.com/agentzhq/controlplane/internal/workertypes"
	"github.com/agentzhq/controlplane/internal/worktree"
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

type fakeLister struct {
	sessions []session.Session
}

func (f fakeLister) SessionsForTask(taskPath string) ([]session.Session, error) {
	return f.sessions, nil
}

func newTestWorkflow(t *testing.T, repoRoot string, sessions []session.Session) *Workflow {
	t.Helper()
	store, err := taskstore.New(repoRoot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	wm := worktree.New(false)
	return New(store, wm, fakeLister{sessions: sessions})
}

func TestCommitTaskCommitsUnionOfTouchedFiles(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)

	store, err := taskstore.New(repoRoot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = store.Create("x.md", "Title", "Body.\n")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "touched.txt"), []byte("hi\n"), 0o644))

	sess := session.Session{
		ID:     "sess-1",
		Status: workertypes.StatusCompleted,
		Metadata: events.Metadata{
			EditedFiles: []events.EditedFile{{Path: "touched.txt", Operation: "create"}},
		},
	}

	wf := New(store, worktree.New(false), fakeLister{sessions: []session.Session{sess}})

	hash, err := wf.CommitTask(context.Background(), repoRoot, "x.md")
	require.NoError(t, err)
	assert.Len(t, hash, 7)
}

func TestCommitTaskRefusesWhenNothingUncommitted(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	wf := newTestWorkflow(t, repoRoot, nil)
	_, err := wf.Tasks.Create("x.md", "Title", "Body.\n")
	require.NoError(t, err)

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoRoot
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("add", "-A")
	run("commit", "-m", "add task")

	_, err = wf.CommitTask(context.Background(), repoRoot, "x.md")
	assert.Error(t, err, "with the task file already committed and no touching sessions, there is nothing left to commit")
}

func TestMergeTaskRecordsMergeAndSetsQAPending(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	ctx := context.Background()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoRoot
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "feature.txt"), []byte("x\n"), 0o644))
	run("add", "feature.txt")
	run("commit", "-m", "feature work")
	run("checkout", "main")

	wf := newTestWorkflow(t, repoRoot, nil)
	created, err := wf.Tasks.Create("x.md", "Title", "Body.\n")
	require.NoError(t, err)

	commitHash, conflict, err := wf.MergeTask(ctx, repoRoot, "x.md", "sess-1", "feature", created.Version)
	require.NoError(t, err)
	assert.False(t, conflict)
	assert.Len(t, commitHash, 40)

	updated, err := wf.Tasks.Get("x.md")
	require.NoError(t, err)
	assert.Equal(t, taskstore.QAPending, updated.QAStatus)
	require.Len(t, updated.Merges, 1)
	assert.Equal(t, "sess-1", updated.Merges[0].SessionID)
}

func TestRevertTaskSetsQAFail(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	ctx := context.Background()

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoRoot
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("checkout", "-b", "feature")
	require.NoError(t, os.WriteFile(filepath.Join(repoRoot, "feature.txt"), []byte("x\n"), 0o644))
	run("add", "feature.txt")
	run("commit", "-m", "feature work")
	run("checkout", "main")

	wf := newTestWorkflow(t, repoRoot, nil)
	created, err := wf.Tasks.Create("x.md", "Title", "Body.\n")
	require.NoError(t, err)

	mergeHash, conflict, err := wf.MergeTask(ctx, repoRoot, "x.md", "sess-1", "feature", created.Version)
	require.NoError(t, err)
	require.False(t, conflict)

	merged, err := wf.Tasks.Get("x.md")
	require.NoError(t, err)

	revertHash, err := wf.RevertTask(ctx, repoRoot, "x.md", "sess-1", mergeHash, merged.Version)
	require.NoError(t, err)
	assert.Len(t, revertHash, 40)

	reverted, err := wf.Tasks.Get("x.md")
	require.NoError(t, err)
	assert.Equal(t, taskstore.QAFail, reverted.QAStatus)
}

func TestArchiveTaskRefusesWhenRepoRootDirty(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	wf := newTestWorkflow(t, repoRoot, nil)
	created, err := wf.Tasks.Create("x.md", "Title", "Body.\n")
	require.NoError(t, err)

	alwaysDirty := func(ctx context.Context, cwd string) (bool, error) { return true, nil }
	_, err = wf.ArchiveTask(context.Background(), repoRoot, "x.md", nil, created.Version, alwaysDirty)
	assert.Error(t, err)
}

func TestArchiveTaskMovesFileAndCommits(t *testing.T) {
	t.Parallel()
	repoRoot := initRepo(t)
	wf := newTestWorkflow(t, repoRoot, nil)
	created, err := wf.Tasks.Create("x.md", "Title", "Body.\n")
	require.NoError(t, err)

	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repoRoot
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("add", "-A")
	run("commit", "-m", "add task")

	noOpCheck := func(ctx context.Context, cwd string) (bool, error) { return false, nil }
	archivePath, err := wf.ArchiveTask(context.Background(), repoRoot, "x.md", nil, created.Version, noOpCheck)
	require.NoError(t, err)
	assert.Contains(t, archivePath, "tasks/archive/"+time.Now().UTC().Format("2006-01")+"/x.md")

	_, err = os.Stat(filepath.Join(repoRoot, "tasks", "x.md"))
	assert.True(t, os.IsNotExist(err))
}
