// Package commitworkflow implements the Commit / Archive Workflow (§4.10):
// scoped commit of a task's touched files, optional merge-to-main with
// QA-pending bookkeeping, revert, and task archival.
package commitworkflow

import (
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/gitservice"
	"github.com/agentzhq/controlplane/internal/logging"
	"github.com/agentzhq/controlplane/internal/paths"
	"github.com/agentzhq/controlplane/internal/session"
	"github.com/agentzhq/controlplane/internal/taskstore"
	"github.com/agentzhq/controlplane/internal/worktree"
)

// SessionLister resolves the sessions that belong to a task, so the
// workflow can compute the union of files they touched (§4.3/§4.10) without
// owning session reconstruction itself. taskPath is the full repo-relative
// path (e.g. "tasks/x.md"), matching session.Session.TaskPath.
type SessionLister interface {
	SessionsForTask(taskPath string) ([]session.Session, error)
}

// repoRelPath turns a taskstore-relative name ("x.md") into the full
// repo-relative path git deals in ("tasks/x.md").
func repoRelPath(taskName string) string {
	return path.Join(paths.TasksDir, taskName)
}

// Workflow wires the task store, worktree manager, and a session lister
// into the commit/merge/revert/archive operations.
type Workflow struct {
	Tasks     *taskstore.Store
	Worktrees *worktree.Manager
	Sessions  SessionLister
}

// New constructs a Workflow.
func New(tasks *taskstore.Store, worktrees *worktree.Manager, sessions SessionLister) *Workflow {
	return &Workflow{Tasks: tasks, Worktrees: worktrees, Sessions: sessions}
}

// CommitTask computes the union of repo-relative paths touched by every
// non-deleted session of taskName, intersects it with what git status
// actually reports as uncommitted, and commits that intersection (§4.10).
func (w *Workflow) CommitTask(ctx context.Context, repoRoot, taskName string) (string, error) {
	taskPath := repoRelPath(taskName)
	sessions, err := w.Sessions.SessionsForTask(taskPath)
	if err != nil {
		return "", fmt.Errorf("listing sessions for %s: %w", taskPath, err)
	}

	touched := map[string]struct{}{taskPath: {}}
	for _, s := range sessions {
		if s.Deleted() {
			continue
		}
		for _, f := range s.ChangedFiles() {
			touched[f.Path] = struct{}{}
		}
	}

	status, err := gitservice.Status(ctx, repoRoot)
	if err != nil {
		return "", err
	}

	var files []string
	for filePath := range touched {
		if statusHas(status, filePath) {
			files = append(files, filePath)
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return "", apierrors.Conflict("no uncommitted changes")
	}

	message := fmt.Sprintf("agentz: commit task %s", taskPath)
	return gitservice.CommitScoped(ctx, repoRoot, files, message)
}

func statusHas(status gitservice.StatusResult, path string) bool {
	for _, lists := range [][]string{status.Staged, status.Modified, status.Untracked} {
		for _, p := range lists {
			if p == path {
				return true
			}
		}
	}
	return false
}

// MergeTask merges worktreeBranch into main (§4.5's --no-ff). On success it
// appends a merge record to taskName and sets qaStatus=pending. On conflict
// it aborts and returns hasConflicts=true without recording anything.
func (w *Workflow) MergeTask(ctx context.Context, repoRoot, taskName, sessionID, worktreeBranch string, expectedVersion int) (commitHash string, hasConflicts bool, err error) {
	result, err := gitservice.MergeBranch(ctx, repoRoot, "main", worktreeBranch)
	if err != nil {
		return "", false, err
	}
	if result.HasConflicts {
		return "", true, nil
	}

	rec := taskstore.MergeRecord{
		SessionID:  sessionID,
		CommitHash: result.MergeCommitHash,
		MergedAt:   time.Now(),
	}
	if _, err := w.Tasks.RecordMerge(taskName, rec, expectedVersion); err != nil {
		return "", false, err
	}
	return result.MergeCommitHash, false, nil
}

// RevertTask reverts mergeCommitHash (first-parent, §4.5) and records the
// revert against sessionID's merge entry, setting qaStatus=fail.
func (w *Workflow) RevertTask(ctx context.Context, repoRoot, taskName, sessionID, mergeCommitHash string, expectedVersion int) (string, error) {
	revertHash, err := gitservice.RevertMerge(ctx, repoRoot, mergeCommitHash)
	if err != nil {
		return "", err
	}
	if _, err := w.Tasks.RecordRevert(taskName, sessionID, revertHash, expectedVersion); err != nil {
		return "", err
	}
	return revertHash, nil
}

// WorktreeChecker reports whether cwd (a session's worktree or the shared
// repo root) has uncommitted changes, so ArchiveTask can refuse cleanly.
type WorktreeChecker func(ctx context.Context, cwd string) (bool, error)

// DefaultWorktreeChecker uses gitservice.Status.
func DefaultWorktreeChecker(ctx context.Context, cwd string) (bool, error) {
	status, err := gitservice.Status(ctx, cwd)
	if err != nil {
		return false, err
	}
	return len(status.Staged) > 0 || len(status.Modified) > 0 || len(status.Untracked) > 0, nil
}

// ArchiveTask refuses if any of the given worktree directories (one per
// still-live session of the task, plus repoRoot itself) carry uncommitted
// changes, then force-deletes each session worktree (best effort), renames
// the task file via the task store, and commits the rename (§4.10).
func (w *Workflow) ArchiveTask(ctx context.Context, repoRoot, taskName string, sessions []session.Session, expectedVersion int, checkDirty WorktreeChecker) (string, error) {
	if checkDirty == nil {
		checkDirty = DefaultWorktreeChecker
	}

	dirty, err := checkDirty(ctx, repoRoot)
	if err != nil {
		return "", err
	}
	if dirty {
		return "", apierrors.Conflict("task has uncommitted changes and cannot be archived")
	}
	for _, s := range sessions {
		if s.WorktreePath == "" || s.Deleted() {
			continue
		}
		dirty, err := checkDirty(ctx, s.WorktreePath)
		if err != nil {
			return "", err
		}
		if dirty {
			return "", apierrors.Conflict(fmt.Sprintf("session %s has uncommitted changes and cannot be archived", s.ID))
		}
	}

	for _, s := range sessions {
		if s.WorktreePath == "" {
			continue
		}
		if err := w.Worktrees.DeleteWorktree(ctx, repoRoot, s.WorktreePath, s.WorktreeBranch, true); err != nil {
			logging.Warn(ctx, "commitworkflow: force-deleting session worktree failed, continuing", "session_id", s.ID, "error", err.Error())
		}
	}

	archivePath, err := w.Tasks.Archive(taskName, expectedVersion)
	if err != nil {
		return "", err
	}

	oldPath := repoRelPath(taskName)
	message := fmt.Sprintf("agentz: archive task %s", oldPath)
	if _, err := gitservice.CommitRename(ctx, repoRoot, oldPath, archivePath, message); err != nil {
		return "", err
	}
	return archivePath, nil
}
