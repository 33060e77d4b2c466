// Package paths centralizes every well-known on-disk location the control
// plane reads or writes: the repo root, the stream directory (§6), the
// worktree directory (§4.4), and the task directory (§4.11).
package paths

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// ControlPlaneDir is the per-repo directory holding everything the control
// plane owns: streams, logs, and its own bookkeeping.
const ControlPlaneDir = ".control-plane"

// StreamsDir is where the registry stream and per-session/control streams live.
const StreamsDir = ControlPlaneDir + "/streams"

// RegistryFileName is the single well-known registry stream file.
const RegistryFileName = "registry.log"

// SessionsSubdir and ControlSubdir are the per-session and control stream
// subdirectories, matching the compatibility surface in §6.
const (
	SessionsSubdir = "sessions"
	ControlSubdir  = "control"
)

// LogsDir is where per-session JSON logger output is written (§4.15).
const LogsDir = ControlPlaneDir + "/logs"

// WorktreesDirName is the sibling directory (adjacent to the repo root) that
// holds every session's isolated worktree (§4.4, §6).
const WorktreesDirName = ".agentz-worktrees"

// WorktreeBranchPrefix is the exact, externally-specified branch prefix (§6).
const WorktreeBranchPrefix = "agentz/session-"

// TasksDir is the default repo-relative directory holding task Markdown files.
const TasksDir = "tasks"

// TasksArchiveDir is the repo-relative directory archived tasks are moved into.
const TasksArchiveDir = TasksDir + "/archive"

var (
	repoRootMu       sync.RWMutex
	repoRootCache    string
	repoRootCacheDir string
)

// RepoRoot returns the git repository root directory, using
// 'git rev-parse --show-toplevel' so it works from any subdirectory. The
// result is cached per working directory.
func RepoRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	repoRootMu.RLock()
	if repoRootCache != "" && repoRootCacheDir == cwd {
		cached := repoRootCache
		repoRootMu.RUnlock()
		return cached, nil
	}
	repoRootMu.RUnlock()

	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("not a git repository: %w", err)
	}
	root := filepath.Clean(trimTrailingNewline(string(out)))

	repoRootMu.Lock()
	repoRootCache = root
	repoRootCacheDir = cwd
	repoRootMu.Unlock()

	return root, nil
}

// ResetRepoRootCache clears the cached repo root. Exposed for tests that
// change working directory between cases.
func ResetRepoRootCache() {
	repoRootMu.Lock()
	repoRootCache = ""
	repoRootCacheDir = ""
	repoRootMu.Unlock()
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// RegistryStreamPath returns the single global registry stream path for repoRoot.
func RegistryStreamPath(repoRoot string) string {
	return filepath.Join(repoRoot, StreamsDir, RegistryFileName)
}

// SessionStreamPath returns the per-session stream path for the given id
// (already validated by the caller): "<root>/sessions/<sessionId>.log".
func SessionStreamPath(repoRoot, sessionID string) string {
	return filepath.Join(repoRoot, StreamsDir, SessionsSubdir, sessionID+".log")
}

// ControlStreamPath returns the approval-control stream path for the given
// session id: "<root>/control/<sessionId>.log".
func ControlStreamPath(repoRoot, sessionID string) string {
	return filepath.Join(repoRoot, StreamsDir, ControlSubdir, sessionID+".log")
}

// SessionLogPath returns the per-session structured-log file path (§4.15).
func SessionLogPath(repoRoot, sessionID string) string {
	return filepath.Join(repoRoot, LogsDir, sessionID+".log")
}

// WorktreesRoot returns the directory holding all worktrees, a sibling of
// repoRoot as specified in §6: "<repoRootParent>/.agentz-worktrees".
func WorktreesRoot(repoRoot string) string {
	return filepath.Join(filepath.Dir(repoRoot), WorktreesDirName)
}

// WorktreePath returns the absolute worktree path for a session.
func WorktreePath(repoRoot, sessionID string) string {
	return filepath.Join(WorktreesRoot(repoRoot), sessionID)
}

// BranchForSession is the pure function mandated by invariant I6:
// branch(sessionId) = "agentz/session-<sessionId>".
func BranchForSession(sessionID string) string {
	return WorktreeBranchPrefix + sessionID
}

// SessionIDFromBranch extracts a session id from a branch produced by
// BranchForSession, or ("", false) if name doesn't match the pattern.
func SessionIDFromBranch(name string) (string, bool) {
	if len(name) <= len(WorktreeBranchPrefix) {
		return "", false
	}
	if name[:len(WorktreeBranchPrefix)] != WorktreeBranchPrefix {
		return "", false
	}
	return name[len(WorktreeBranchPrefix):], true
}

// EnsureDir creates dir (and parents) if it does not already exist.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}
