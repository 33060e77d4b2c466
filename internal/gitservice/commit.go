package gitservice

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CommitScoped stages exactly files (validated against cwd's root) and
// commits them with message, carried via a temp file so the message never
// touches the shell (§4.5). Returns the short commit hash.
func CommitScoped(ctx context.Context, cwd string, files []string, message string) (string, error) {
	rel, err := validatePaths(cwd, files)
	if err != nil {
		return "", err
	}
	if len(rel) == 0 {
		return "", apierrorsInvalidInput("commitScoped requires at least one file")
	}

	addArgs := append([]string{"add", "--"}, rel...)
	if _, err := runGit(ctx, cwd, addArgs...); err != nil {
		return "", err
	}

	msgFile, err := os.CreateTemp("", "agentz-commit-*.msg")
	if err != nil {
		return "", fmt.Errorf("creating commit message temp file: %w", err)
	}
	defer os.Remove(msgFile.Name())
	if err := msgFile.Chmod(0o600); err != nil {
		msgFile.Close()
		return "", fmt.Errorf("securing commit message temp file: %w", err)
	}
	if _, err := msgFile.WriteString(message); err != nil {
		msgFile.Close()
		return "", fmt.Errorf("writing commit message: %w", err)
	}
	if err := msgFile.Close(); err != nil {
		return "", fmt.Errorf("closing commit message temp file: %w", err)
	}

	if _, err := runGit(ctx, cwd, "commit", "-F", msgFile.Name()); err != nil {
		return "", err
	}

	hashOut, err := runGit(ctx, cwd, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(hashOut)), nil
}

// CommitRename stages oldPath and newPath with `add -A` (so a path that no
// longer exists on disk is recorded as a deletion rather than rejected) and
// commits, for the task-archive rename workflow (§4.10).
func CommitRename(ctx context.Context, cwd string, oldPath, newPath, message string) (string, error) {
	rel, err := validatePaths(cwd, []string{oldPath, newPath})
	if err != nil {
		return "", err
	}

	addArgs := append([]string{"add", "-A", "--"}, rel...)
	if _, err := runGit(ctx, cwd, addArgs...); err != nil {
		return "", err
	}

	msgFile, err := os.CreateTemp("", "agentz-commit-*.msg")
	if err != nil {
		return "", fmt.Errorf("creating commit message temp file: %w", err)
	}
	defer os.Remove(msgFile.Name())
	if err := msgFile.Chmod(0o600); err != nil {
		msgFile.Close()
		return "", fmt.Errorf("securing commit message temp file: %w", err)
	}
	if _, err := msgFile.WriteString(message); err != nil {
		msgFile.Close()
		return "", fmt.Errorf("writing commit message: %w", err)
	}
	if err := msgFile.Close(); err != nil {
		return "", fmt.Errorf("closing commit message temp file: %w", err)
	}

	if _, err := runGit(ctx, cwd, "commit", "-F", msgFile.Name()); err != nil {
		return "", err
	}

	hashOut, err := runGit(ctx, cwd, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(hashOut)), nil
}

// apierrorsInvalidInput wraps a programmer-error condition distinct from
// path validation (§4.5: "Failure classes are surfaced as {success:false,
// error}... except for programmer errors... which may throw").
func apierrorsInvalidInput(msg string) error {
	return fmt.Errorf("gitservice: %s", msg)
}
