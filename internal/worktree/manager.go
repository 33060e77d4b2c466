// Package worktree implements the Worktree Manager (§4.4): creating,
// listing, and reclaiming per-session isolated git worktrees whose branch
// name is a pure function of the session id.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/logging"
	"github.com/agentzhq/controlplane/internal/paths"
)

// gitTimeout bounds every git subprocess invocation (§5).
const gitTimeout = 30 * time.Second

// Manager owns the enable/disable flag for worktree isolation (§4.4:
// "worktree isolation is a boolean global; when off, ensureWorktree is a
// no-op") and serializes the `git worktree add`/`remove` pair, which is not
// safe for concurrent invocation against the same repository.
type Manager struct {
	enabled bool

	mu sync.Mutex
}

// New constructs a Manager. enabled mirrors the process-wide worktree
// isolation flag (§4.4).
func New(enabled bool) *Manager {
	return &Manager{enabled: enabled}
}

// Worktree describes one session's isolated checkout.
type Worktree struct {
	SessionID string
	Path      string
	Branch    string
	Head      string
	Locked    bool
	Prunable  bool
}

// EnsureWorktree creates (idempotently) the isolated worktree for sessionId
// under repoRoot, returning its path. When isolation is disabled, it
// returns repoRoot itself and performs no git operation. On failure, any
// partial worktree directory is rolled back.
func (m *Manager) EnsureWorktree(ctx context.Context, sessionID, repoRoot string) (string, error) {
	if !m.enabled {
		return repoRoot, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	wtPath := paths.WorktreePath(repoRoot, sessionID)
	branch := paths.BranchForSession(sessionID)

	if existing, ok, err := m.lookupLocked(ctx, repoRoot, sessionID); err != nil {
		return "", err
	} else if ok {
		return existing.Path, nil
	}

	if err := paths.EnsureDir(paths.WorktreesRoot(repoRoot)); err != nil {
		return "", err
	}

	addWithRetry := func() error {
		_, err := runGit(ctx, repoRoot, "worktree", "add", "-b", branch, wtPath, "HEAD")
		return err
	}

	if err := retryOnLockContention(ctx, addWithRetry); err != nil {
		_ = os.RemoveAll(wtPath)
		return "", fmt.Errorf("creating worktree for session %s: %w", sessionID, err)
	}

	logging.Info(ctx, "worktree created", "session_id", sessionID, "branch", branch, "path", wtPath)
	return wtPath, nil
}

// retryOnLockContention retries op with exponential backoff when git
// reports an index.lock / ref-lock contention, which happens transiently
// when two spawn calls race to create worktrees in the same repo.
func retryOnLockContention(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 1 * time.Second
	b.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isLockContention(err) {
			return err // retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}

func isLockContention(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index.lock") || strings.Contains(msg, "unable to create") && strings.Contains(msg, "lock")
}

// Lookup returns the worktree for sessionId if one is registered with git,
// or (Worktree{}, false) if not.
func (m *Manager) Lookup(ctx context.Context, repoRoot, sessionID string) (Worktree, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(ctx, repoRoot, sessionID)
}

func (m *Manager) lookupLocked(ctx context.Context, repoRoot, sessionID string) (Worktree, bool, error) {
	all, err := m.listWorktreesDetailedLocked(ctx, repoRoot)
	if err != nil {
		return Worktree{}, false, err
	}
	for _, wt := range all {
		if wt.SessionID == sessionID {
			return wt, true, nil
		}
	}
	return Worktree{}, false, nil
}

// DeleteWorktree removes the worktree at path and, unless force is
// requested (force skips the fully-merged check and just deletes the
// branch too), deletes its branch only if fully merged.
func (m *Manager) DeleteWorktree(ctx context.Context, repoRoot, path, branch string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	if _, err := runGit(ctx, repoRoot, args...); err != nil {
		if !force {
			return err
		}
		// best-effort: fall back to a plain directory removal if git itself
		// refuses (e.g. the worktree's .git file was already cleaned up).
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("removing worktree directory %s: %w (git error: %v)", path, rmErr, err)
		}
		_, _ = runGit(ctx, repoRoot, "worktree", "prune")
	}

	if branch == "" {
		return nil
	}
	deleteArgs := []string{"branch", "-d", branch}
	if force {
		deleteArgs[1] = "-D"
	}
	if _, err := runGit(ctx, repoRoot, deleteArgs...); err != nil && !force {
		// branch not fully merged: leave it, per §4.4 this is not a failure
		// of the delete operation itself.
		logging.Warn(ctx, "worktree branch not fully merged, left in place", "branch", branch)
		return nil
	}
	return nil
}

// ListWorktreesDetailed returns every git-registered worktree for repoRoot.
func (m *Manager) ListWorktreesDetailed(ctx context.Context, repoRoot string) ([]Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listWorktreesDetailedLocked(ctx, repoRoot)
}

func (m *Manager) listWorktreesDetailedLocked(ctx context.Context, repoRoot string) ([]Worktree, error) {
	out, err := runGit(ctx, repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(string(out)), nil
}

// parseWorktreeList parses `git worktree list --porcelain` blocks, each
// separated by a blank line, of the form:
//
//	worktree /path
//	HEAD <sha>
//	branch refs/heads/<name>
//	[locked [reason]]
//	[prunable [reason]]
func parseWorktreeList(out string) []Worktree {
	var result []Worktree
	var cur Worktree
	flush := func() {
		if cur.Path == "" {
			return
		}
		if sid, ok := paths.SessionIDFromBranch(cur.Branch); ok {
			cur.SessionID = sid
		}
		result = append(result, cur)
		cur = Worktree{}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case strings.HasPrefix(line, "locked"):
			cur.Locked = true
		case strings.HasPrefix(line, "prunable"):
			cur.Prunable = true
		}
	}
	flush()
	return result
}

// CleanupOrphaned removes every worktree whose session id is not in
// activeSessionIDs, returning the count removed (§4.4). Orphans with
// uncommitted changes are skipped rather than failed, unless force is set
// (the task-archive path).
func (m *Manager) CleanupOrphaned(ctx context.Context, repoRoot string, activeSessionIDs map[string]bool, force bool) (int, error) {
	all, err := m.ListWorktreesDetailed(ctx, repoRoot)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, wt := range all {
		if wt.SessionID == "" || activeSessionIDs[wt.SessionID] {
			continue
		}
		dirty, err := hasUncommittedChanges(ctx, wt.Path)
		if err != nil {
			logging.Warn(ctx, "orphan sweep: could not check worktree status, skipping", "path", wt.Path, "error", err.Error())
			continue
		}
		if dirty && !force {
			logging.Info(ctx, "orphan sweep: skipping worktree with uncommitted changes", "path", wt.Path)
			continue
		}
		if err := m.DeleteWorktree(ctx, repoRoot, wt.Path, wt.Branch, force); err != nil {
			logging.Warn(ctx, "orphan sweep: failed to delete worktree", "path", wt.Path, "error", err.Error())
			continue
		}
		removed++
	}
	return removed, nil
}

func hasUncommittedChanges(ctx context.Context, cwd string) (bool, error) {
	out, err := runGit(ctx, cwd, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

func runGit(ctx context.Context, cwd string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // args are built from validated session ids and constants
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apierrors.GitFailure(-1, "git operation timed out after 30s")
		}
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return out, apierrors.GitFailure(exitCodeOf(err), sanitize(cwd, stderr, err))
	}
	return out, nil
}

func exitCodeOf(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

func sanitize(cwd, stderr string, fallback error) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = fallback.Error()
	}
	return strings.ReplaceAll(msg, cwd, "<repo>")
}
