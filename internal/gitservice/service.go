// Package gitservice is a thin, validated wrapper over the installed git
// binary (§4.5): status, diff, scoped commit, merge/revert, commit log, and
// push, with every path and branch name checked before git is invoked and
// every error sanitised before it reaches a caller.
package gitservice

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/redact"
	"github.com/agentzhq/controlplane/internal/validation"
)

// gitTimeout bounds every git subprocess invocation (§5): "the git binary is
// invoked with a 30-second timeout, prompt disabled (no TTY), stdio captured."
const gitTimeout = 30 * time.Second

// runGit executes git with args in cwd, with a TTY-less, non-interactive
// environment and gitTimeout bound. Returns combined stdout+stderr on
// failure, sanitized, wrapped as an *apierrors.Error of kind GitFailure.
func runGit(ctx context.Context, cwd string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // args are validated by callers before reaching here
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "GIT_ASKPASS=")
	cmd.Stdin = nil

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apierrors.GitFailure(-1, "git operation timed out after 30s")
		}
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = string(exitErr.Stderr)
		}
		return out, apierrors.GitFailure(exitCode(err), sanitizeGitError(cwd, stderr, err))
	}
	return out, nil
}

func exitCode(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// absolutePathPattern matches filesystem-looking absolute paths so they can
// be stripped from git error text before it's surfaced to a client.
var absolutePathPattern = regexp.MustCompile(`(?:/[\w.\-]+){2,}`)

// sanitizeGitError strips absolute paths and any embedded credential/token
// material from raw git stderr before it is allowed to reach a caller (§4.5,
// §7: "Error text from git is sanitised... strip absolute paths and
// credential tokens").
func sanitizeGitError(cwd, stderr string, fallback error) string {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = fallback.Error()
	}
	msg = strings.ReplaceAll(msg, cwd, "<repo>")
	msg = absolutePathPattern.ReplaceAllString(msg, "<path>")
	return redact.String(msg)
}

// validatePaths checks every path in files against repoRoot (no escape via
// `..` or an absolute path outside the tree), returning the cleaned,
// repo-relative forms in the same order (P7).
func validatePaths(repoRoot string, files []string) ([]string, error) {
	cleaned := make([]string, 0, len(files))
	for _, f := range files {
		rel, err := validation.ValidatePathWithinRoot(repoRoot, f)
		if err != nil {
			return nil, apierrors.InvalidPath(f)
		}
		cleaned = append(cleaned, rel)
	}
	return cleaned, nil
}

// validateBranch checks name against git's ref rules plus the local extras
// in §7 (no leading `.`/`-`, no `..`, no whitespace) (P6).
func validateBranch(name string) error {
	if err := validation.ValidateBranchName(name); err != nil {
		return apierrors.InvalidBranchName(name)
	}
	return nil
}

// requireRepo confirms cwd is inside a git working tree before any other
// operation runs.
func requireRepo(ctx context.Context, cwd string) error {
	if _, err := runGit(ctx, cwd, "rev-parse", "--show-toplevel"); err != nil {
		return apierrors.NotARepo(cwd)
	}
	return nil
}

func repoRootOf(ctx context.Context, cwd string) (string, error) {
	out, err := runGit(ctx, cwd, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", apierrors.NotARepo(cwd)
	}
	return strings.TrimSpace(string(out)), nil
}

func joinRepoPath(repoRoot string, rel string) string {
	return filepath.Join(repoRoot, filepath.FromSlash(rel))
}

// currentBranch returns the checked-out branch name, or "" for detached HEAD.
func currentBranch(ctx context.Context, cwd string) (string, error) {
	out, err := runGit(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(string(out))
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}
