// Package apierrors defines the closed set of error kinds surfaced across
// the control plane's components (§7), so every layer — git service,
// worktree manager, rate limiter, orchestrator API — reports failures the
// same way instead of leaking raw git output or ad-hoc strings.
package apierrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the closed set of error kinds in §7.
type Kind string

const (
	KindNotARepo          Kind = "NotARepo"
	KindInvalidPath       Kind = "InvalidPath"
	KindInvalidBranchName Kind = "InvalidBranchName"
	KindGitFailure        Kind = "GitFailure"
	KindConflict          Kind = "Conflict"
	KindBusy              Kind = "Busy"
	KindRateLimited       Kind = "RateLimited"
	KindVersionConflict   Kind = "VersionConflict"
	KindNotFound          Kind = "NotFound"
	KindWorkerLost        Kind = "WorkerLost"
)

// Error is the common shape every apierrors constructor returns.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfter is set for RateLimited.
	RetryAfter time.Duration
	// GitExitCode is set for GitFailure.
	GitExitCode int
	// CurrentVersion is set for VersionConflict.
	CurrentVersion int
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is supports errors.Is(err, apierrors.NotARepo) style checks against a
// bare Kind sentinel constructed via New.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs a bare Error of the given kind, for use as an errors.Is
// sentinel (e.g. `apierrors.New(apierrors.KindNotFound)`).
func New(kind Kind) *Error { return &Error{Kind: kind} }

func NotARepo(cwd string) *Error {
	return &Error{Kind: KindNotARepo, Message: fmt.Sprintf("%s is not a git working tree", cwd)}
}

func InvalidPath(path string) *Error {
	return &Error{Kind: KindInvalidPath, Message: fmt.Sprintf("path %q escapes the repository root", path)}
}

func InvalidBranchName(name string) *Error {
	return &Error{Kind: KindInvalidBranchName, Message: fmt.Sprintf("invalid branch name %q", name)}
}

func GitFailure(exitCode int, sanitized string) *Error {
	return &Error{Kind: KindGitFailure, Message: sanitized, GitExitCode: exitCode}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Busy(message string) *Error {
	return &Error{Kind: KindBusy, Message: message}
}

func RateLimited(reason string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: reason, RetryAfter: retryAfter}
}

func VersionConflict(currentVersion int) *Error {
	return &Error{
		Kind:           KindVersionConflict,
		Message:        "task was updated concurrently",
		CurrentVersion: currentVersion,
	}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: what}
}

func WorkerLost(sessionID string) *Error {
	return &Error{Kind: KindWorkerLost, Message: fmt.Sprintf("daemon for session %s is no longer alive", sessionID)}
}
