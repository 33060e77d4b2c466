package gitservice

import (
	"context"
	"strings"
)

// StatusResult is the parsed output of `git status --porcelain=v2 -z -u`.
type StatusResult struct {
	Staged    []string
	Modified  []string
	Untracked []string
	Branch    string
	Ahead     int
	Behind    int
}

// Status reports the working tree state of cwd (§4.5). Rename entries
// report only the new path, matching the spec's porcelain-v2 contract.
func Status(ctx context.Context, cwd string) (StatusResult, error) {
	if err := requireRepo(ctx, cwd); err != nil {
		return StatusResult{}, err
	}

	out, err := runGit(ctx, cwd, "status", "--porcelain=v2", "-z", "-u", "--branch")
	if err != nil {
		return StatusResult{}, err
	}

	var result StatusResult
	for _, entry := range strings.Split(string(out), "\x00") {
		if entry == "" {
			continue
		}
		switch {
		case strings.HasPrefix(entry, "# branch.head "):
			result.Branch = strings.TrimPrefix(entry, "# branch.head ")
		case strings.HasPrefix(entry, "# branch.ab "):
			parseAheadBehind(entry, &result)
		case strings.HasPrefix(entry, "1 "), strings.HasPrefix(entry, "2 "):
			parseChangedEntry(entry, &result)
		case strings.HasPrefix(entry, "? "):
			result.Untracked = append(result.Untracked, strings.TrimPrefix(entry, "? "))
		}
	}
	return result, nil
}

func parseAheadBehind(entry string, result *StatusResult) {
	// "# branch.ab +<ahead> -<behind>"
	fields := strings.Fields(strings.TrimPrefix(entry, "# branch.ab "))
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "+"):
			result.Ahead = atoiSafe(f[1:])
		case strings.HasPrefix(f, "-"):
			result.Behind = atoiSafe(f[1:])
		}
	}
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// parseChangedEntry handles both "1 " (ordinary changed entry) and "2 "
// (renamed/copied entry, which carries the new path first and the original
// path in a trailing field that status -z separates with another NUL — the
// caller's split on "\x00" already isolated it to this element). Per §4.5,
// rename entries report the new path only.
func parseChangedEntry(entry string, result *StatusResult) {
	// "1" (ordinary) entries carry 8 fixed fields before the path; "2"
	// (rename/copy) entries carry a 9th score field (e.g. "R100") before
	// the path. The rename's original path is NUL-separated by -z and
	// therefore already isolated into its own unprefixed element by the
	// caller's split; it's discarded.
	want := 9
	if strings.HasPrefix(entry, "2 ") {
		want = 10
	}
	fields := strings.SplitN(entry, " ", want)
	if len(fields) < want {
		return
	}
	xy := fields[1]
	path := fields[want-1]
	staged := xy[0] != '.'
	modified := len(xy) > 1 && xy[1] != '.'
	if staged {
		result.Staged = append(result.Staged, path)
	}
	if modified {
		result.Modified = append(result.Modified, path)
	}
}
