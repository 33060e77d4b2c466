package gitservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentzhq/controlplane/internal/apierrors"
)

// MergeResult is the outcome of a MergeBranch call.
type MergeResult struct {
	MergeCommitHash string
	HasConflicts    bool
}

// MergeBranch merges source into target with --no-ff and a deterministic
// message (§4.5). It never leaves the repo on a branch other than the one
// the caller started on: on success it checks back out the starting branch
// only if target != starting branch's worktree... in practice target and
// source are both checked out and then the original branch is restored
// before returning. On conflict, the merge is aborted and the prior branch
// restored; HasConflicts is set rather than returning an error.
func MergeBranch(ctx context.Context, cwd, target, source string) (MergeResult, error) {
	if err := validateBranch(target); err != nil {
		return MergeResult{}, err
	}
	if err := validateBranch(source); err != nil {
		return MergeResult{}, err
	}

	startingBranch, err := currentBranch(ctx, cwd)
	if err != nil {
		return MergeResult{}, err
	}

	if err := branchMustExist(ctx, cwd, target); err != nil {
		return MergeResult{}, err
	}
	if err := branchMustExist(ctx, cwd, source); err != nil {
		return MergeResult{}, err
	}

	if _, err := runGit(ctx, cwd, "checkout", target); err != nil {
		return MergeResult{}, err
	}

	restore := func() {
		if startingBranch != "" && startingBranch != target {
			_, _ = runGit(ctx, cwd, "checkout", startingBranch)
		}
	}

	message := fmt.Sprintf("Merge branch '%s' into %s", source, target)
	_, mergeErr := runGit(ctx, cwd, "merge", "--no-ff", "-m", message, source)
	if mergeErr != nil {
		// A conflicted merge and a hard git failure both surface as a
		// non-nil error from runGit; disambiguate by checking for an
		// in-progress merge state before treating it as a conflict.
		if inMerge, _ := mergeInProgress(ctx, cwd); inMerge {
			_, _ = runGit(ctx, cwd, "merge", "--abort")
			restore()
			return MergeResult{HasConflicts: true}, nil
		}
		restore()
		return MergeResult{}, mergeErr
	}

	hashOut, err := runGit(ctx, cwd, "rev-parse", "HEAD")
	if err != nil {
		restore()
		return MergeResult{}, err
	}

	restore()
	return MergeResult{MergeCommitHash: strings.TrimSpace(string(hashOut))}, nil
}

// RevertMerge reverts mergeHash, keeping the first parent (the target
// branch's history) per §4.5's `revert -m 1 --no-edit`.
func RevertMerge(ctx context.Context, cwd, mergeHash string) (string, error) {
	if _, err := runGit(ctx, cwd, "revert", "-m", "1", "--no-edit", mergeHash); err != nil {
		return "", err
	}
	hashOut, err := runGit(ctx, cwd, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(hashOut)), nil
}

func branchMustExist(ctx context.Context, cwd, branch string) error {
	if _, err := runGit(ctx, cwd, "rev-parse", "--verify", "refs/heads/"+branch); err != nil {
		return apierrors.NotFound(fmt.Sprintf("branch %q does not exist", branch))
	}
	return nil
}

func mergeInProgress(ctx context.Context, cwd string) (bool, error) {
	out, err := runGit(ctx, cwd, "rev-parse", "--verify", "-q", "MERGE_HEAD")
	if err != nil {
		return false, nil //nolint:nilerr // MERGE_HEAD absent just means no merge is in progress
	}
	return strings.TrimSpace(string(out)) != "", nil
}
