package gitservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiffView selects which working-tree comparison a Diff call performs.
type DiffView string

const (
	DiffAuto    DiffView = "auto"
	DiffStaged  DiffView = "staged"
	DiffWorking DiffView = "working"
)

// imageExtensions are rendered as base64 data URLs instead of a text diff.
var imageExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// DiffResult is the outcome of a Diff call for one file.
type DiffResult struct {
	File    string
	Binary  bool
	Text    string
	IsImage bool
	OldData string // base64 data URL, image diffs only
	NewData string // base64 data URL, image diffs only
}

// Diff computes the diff for one file in cwd under the requested view
// (§4.5). Binary files are detected via --numstat (`-\t-\t<path>`); image
// extensions are returned as base64 data URLs for both sides instead of a
// (meaningless) binary text diff.
func Diff(ctx context.Context, cwd, file string, view DiffView) (DiffResult, error) {
	rel, err := validatePaths(cwd, []string{file})
	if err != nil {
		return DiffResult{}, err
	}
	file = rel[0]

	diffArgs := diffArgsFor(view)

	numstat, err := runGit(ctx, cwd, append(append([]string{}, diffArgs...), "--numstat", "--", file)...)
	if err != nil {
		return DiffResult{}, err
	}
	binary := isBinaryNumstat(string(numstat))

	result := DiffResult{File: file, Binary: binary}

	if binary {
		if mime, ok := imageExtensions[strings.ToLower(filepath.Ext(file))]; ok {
			result.IsImage = true
			result.OldData, _ = imageDataURL(ctx, cwd, file, view, mime, true)
			result.NewData, _ = imageDataURL(ctx, cwd, file, view, mime, false)
			return result, nil
		}
		return result, nil
	}

	out, err := runGit(ctx, cwd, append(append([]string{}, diffArgs...), "--", file)...)
	if err != nil {
		return DiffResult{}, err
	}
	result.Text = string(out)
	return result, nil
}

func diffArgsFor(view DiffView) []string {
	switch view {
	case DiffStaged:
		return []string{"diff", "--cached"}
	case DiffWorking:
		return []string{"diff"}
	default: // DiffAuto: prefer staged content, fall back to working tree
		return []string{"diff", "HEAD"}
	}
}

func isBinaryNumstat(numstat string) bool {
	fields := strings.Fields(numstat)
	return len(fields) >= 2 && fields[0] == "-" && fields[1] == "-"
}

// imageDataURL reads one side of an image diff (old=HEAD blob, new=working
// tree file) and returns it as a base64 data: URL.
func imageDataURL(ctx context.Context, cwd, file string, view DiffView, mime string, old bool) (string, error) {
	var data []byte
	var err error
	if old {
		ref := "HEAD"
		if view == DiffStaged {
			ref = ":0"
		}
		out, gitErr := runGit(ctx, cwd, "show", fmt.Sprintf("%s:%s", ref, file))
		data, err = out, gitErr
	} else {
		data, err = os.ReadFile(joinRepoPath(cwd, file)) //nolint:gosec // file validated via validatePaths
	}
	if err != nil {
		return "", err
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
