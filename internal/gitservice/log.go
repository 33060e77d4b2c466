package gitservice

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// CommitInfo is one entry returned by CommitsForFiles.
type CommitInfo struct {
	Hash    string
	Message string
	Author  string
	Date    time.Time
	Files   []string
}

// logFieldSep and logEntrySep are NUL bytes, chosen so they can never
// appear in a commit message or author name, avoiding any ambiguity a
// human-readable delimiter could introduce.
const (
	logFieldSep = "\x00"
	logEntrySep = "\x01"
)

// CommitsForFiles returns up to limit commits touching any of files,
// newest first, parsed from a null-byte-delimited `git log` format (§4.5).
func CommitsForFiles(ctx context.Context, cwd string, files []string, limit int) ([]CommitInfo, error) {
	rel, err := validatePaths(cwd, files)
	if err != nil {
		return nil, err
	}

	args := []string{
		"log",
		"-n", strconv.Itoa(limit),
		"--format=%H" + logFieldSep + "%s" + logFieldSep + "%an" + logFieldSep + "%aI" + logEntrySep,
		"--name-only",
	}
	if len(rel) > 0 {
		args = append(args, "--")
		args = append(args, rel...)
	}

	out, err := runGit(ctx, cwd, args...)
	if err != nil {
		return nil, err
	}

	var commits []CommitInfo
	for _, entry := range strings.Split(string(out), logEntrySep) {
		entry = strings.Trim(entry, "\n")
		if entry == "" {
			continue
		}
		fields := strings.SplitN(entry, logFieldSep, 4)
		if len(fields) < 4 {
			continue
		}

		// fields[3] is "<date>\n<file>\n<file>...": split off the date's
		// own line from the trailing name-only file list.
		rest := strings.SplitN(fields[3], "\n", 2)
		var date time.Time
		var touchedFiles []string
		if len(rest) > 0 {
			date, _ = time.Parse(time.RFC3339, strings.TrimSpace(rest[0]))
		}
		if len(rest) == 2 {
			for _, line := range strings.Split(rest[1], "\n") {
				line = strings.TrimSpace(line)
				if line != "" {
					touchedFiles = append(touchedFiles, line)
				}
			}
		}

		commits = append(commits, CommitInfo{
			Hash:    fields[0],
			Message: fields[1],
			Author:  fields[2],
			Date:    date,
			Files:   touchedFiles,
		})
	}
	return commits, nil
}
