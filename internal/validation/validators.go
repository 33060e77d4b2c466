// Package validation provides input validation shared by every other package
// that accepts ids or paths from an external caller (an HTTP request, a
// worker-emitted frame, a CLI flag). It has no internal dependencies to avoid
// import cycles.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
// Used to validate IDs that will be used in file paths.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// sessionIDRegex matches the wire format for a session id: exactly 12 lowercase hex characters.
var sessionIDRegex = regexp.MustCompile(`^[0-9a-f]{12}$`)

// nonceRegex matches the wire format for a daemon nonce: exactly 32 lowercase hex characters.
var nonceRegex = regexp.MustCompile(`^[0-9a-f]{32}$`)

// branchNameRegex rejects the local extras git's own ref rules don't already
// cover: leading '.', leading '-', '..', and whitespace.
var branchNameInvalid = regexp.MustCompile(`(^[.-])|(\.\.)|(\s)|(@\{)|([~^:?*\[\\])`)

// ValidateSessionID validates that a session id matches the wire format
// (12 lowercase hex characters) and therefore cannot be used for path traversal.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session id cannot be empty")
	}
	if !sessionIDRegex.MatchString(id) {
		return fmt.Errorf("invalid session id %q: must be 12 lowercase hex characters", id)
	}
	return nil
}

// ValidateNonce validates the wire format of a daemon nonce (32 lowercase hex characters).
func ValidateNonce(nonce string) error {
	if nonce == "" {
		return errors.New("nonce cannot be empty")
	}
	if !nonceRegex.MatchString(nonce) {
		return fmt.Errorf("invalid nonce: must be 32 lowercase hex characters")
	}
	return nil
}

// ValidateToolUseID validates that a tool use id contains only safe characters for paths.
func ValidateToolUseID(id string) error {
	if id == "" {
		return nil // optional field
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid tool use id %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateAgentSessionID validates an opaque, worker-supplied resume handle
// (cliSessionId). Workers may use UUIDs or other agent-specific formats.
func ValidateAgentSessionID(id string) error {
	if id == "" {
		return nil // optional field
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid agent session id %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateBranchName rejects branch names that fail git's own ref rules or
// the control plane's local extras (no leading '.'/'-', no '..', no whitespace,
// no '~^:?*[\').
func ValidateBranchName(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") {
		return fmt.Errorf("invalid branch name %q", name)
	}
	if branchNameInvalid.MatchString(name) {
		return fmt.Errorf("invalid branch name %q", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" {
			return fmt.Errorf("invalid branch name %q: empty path segment", name)
		}
	}
	return nil
}

// ValidatePathWithinRoot normalises p relative to root and rejects anything
// that escapes root via ".." or an absolute-path trick. Returns the
// repo-relative, cleaned path on success.
func ValidatePathWithinRoot(root, p string) (string, error) {
	if filepath.IsAbs(p) {
		// Absolute paths are only accepted if they are already inside root.
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", fmt.Errorf("invalid path %q: %w", p, err)
		}
		p = rel
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path %q: escapes repository root", p)
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid path %q: absolute path not allowed", p)
	}
	return clean, nil
}
