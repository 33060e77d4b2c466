// Package taskstore implements the Task Store (§4.11): Markdown task
// documents with YAML front matter, inline subtasks, and versioned
// optimistic updates.
package taskstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// QAStatus is a task's post-merge review state.
type QAStatus string

const (
	QANone    QAStatus = ""
	QAPending QAStatus = "pending"
	QAPass    QAStatus = "pass"
	QAFail    QAStatus = "fail"
)

// MergeRecord is one entry in a task's recorded merges (§6).
type MergeRecord struct {
	SessionID  string  `yaml:"sessionId"`
	CommitHash string  `yaml:"commitHash"`
	MergedAt   time.Time `yaml:"mergedAt"`
	RevertedBy *string `yaml:"revertedBy,omitempty"`
}

// Subtask is one line of the `## Subtasks` block.
type Subtask struct {
	Title string
	Done  bool
}

// frontMatter is the YAML-serialised header recognised by §6.
type frontMatter struct {
	Archived   bool          `yaml:"archived,omitempty"`
	ArchivedAt *time.Time    `yaml:"archivedAt,omitempty"`
	Version    int           `yaml:"version"`
	SplitFrom  string        `yaml:"splitFrom,omitempty"`
	Merges     []MergeRecord `yaml:"merges,omitempty"`
	QAStatus   QAStatus      `yaml:"qaStatus,omitempty"`
	AutoRun    bool          `yaml:"autoRun,omitempty"`
}

// Task is one parsed Markdown task document.
type Task struct {
	Path       string // repo-relative
	Title      string
	Body       string
	Subtasks   []Subtask
	Version    int
	Archived   bool
	ArchivedAt *time.Time
	SplitFrom  string
	Merges     []MergeRecord
	QAStatus   QAStatus
	AutoRun    bool
}

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n?`)
	h1Re          = regexp.MustCompile(`(?m)^#\s+(.+?)\s*$`)
	subtasksHdrRe = regexp.MustCompile(`(?m)^##\s+Subtasks\s*$`)
	headingRe     = regexp.MustCompile(`(?m)^(#{1,2})\s+.+$`)
	subtaskLineRe = regexp.MustCompile(`^-\s*\[( |x|X)\]\s*(.+)$`)
)

// parseTask parses raw file content (without knowledge of the path it came
// from) into a Task. path is stamped onto the result for convenience.
func parseTask(path string, content string) (Task, error) {
	fm := frontMatter{Version: 1}
	body := content

	if loc := frontMatterRe.FindStringSubmatchIndex(content); loc != nil {
		yamlBlock := content[loc[2]:loc[3]]
		if err := unmarshalFrontMatter(yamlBlock, &fm); err != nil {
			return Task{}, fmt.Errorf("parsing front matter of %s: %w", path, err)
		}
		body = content[loc[1]:]
	}

	title := ""
	if m := h1Re.FindStringSubmatchIndex(body); m != nil {
		title = body[m[2]:m[3]]
		body = body[:m[0]] + body[m[1]:]
	}

	var subtasks []Subtask
	if hdr := subtasksHdrRe.FindStringIndex(body); hdr != nil {
		blockStart := hdr[1]
		blockEnd := len(body)
		if next := headingRe.FindStringIndex(body[blockStart:]); next != nil {
			blockEnd = blockStart + next[0]
		}
		block := body[blockStart:blockEnd]
		subtasks = parseSubtaskLines(block)
		body = body[:hdr[0]] + body[blockEnd:]
	}

	return Task{
		Path:       path,
		Title:      title,
		Body:       strings.Trim(body, "\n") + "\n",
		Subtasks:   subtasks,
		Version:    fm.Version,
		Archived:   fm.Archived,
		ArchivedAt: fm.ArchivedAt,
		SplitFrom:  fm.SplitFrom,
		Merges:     fm.Merges,
		QAStatus:   fm.QAStatus,
		AutoRun:    fm.AutoRun,
	}, nil
}

// section is one heading-delimited chunk of a task body, used by
// SplitSections.
type section struct {
	heading string
	body    string
}

// headingLevelRe builds a regex matching a Markdown heading of an exact
// level (e.g. level=2 matches "## " but not "# " or "### ").
func headingLevelRe(level int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?m)^#{%d}[ \t]+(.+?)\s*$`, level))
}

// splitSections splits body into the sections delimited by re, discarding
// any text before the first match.
func splitSections(body string, re *regexp.Regexp) []section {
	locs := re.FindAllStringSubmatchIndex(body, -1)
	var secs []section
	for i, loc := range locs {
		heading := body[loc[2]:loc[3]]
		start := loc[1]
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		secs = append(secs, section{heading: heading, body: strings.TrimSpace(body[start:end])})
	}
	return secs
}

func parseSubtaskLines(block string) []Subtask {
	var out []Subtask
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := subtaskLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Subtask{
			Title: strings.TrimSpace(m[2]),
			Done:  strings.EqualFold(m[1], "x"),
		})
	}
	return out
}

// serialize renders t back to Markdown with a YAML front-matter block.
func serialize(t Task) (string, error) {
	fm := frontMatter{
		Archived:   t.Archived,
		ArchivedAt: t.ArchivedAt,
		Version:    t.Version,
		SplitFrom:  t.SplitFrom,
		Merges:     t.Merges,
		QAStatus:   t.QAStatus,
		AutoRun:    t.AutoRun,
	}
	yamlBlock, err := marshalFrontMatter(&fm)
	if err != nil {
		return "", fmt.Errorf("serializing front matter for %s: %w", t.Path, err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.WriteString(yamlBlock)
	sb.WriteString("---\n\n")
	if t.Title != "" {
		sb.WriteString("# " + t.Title + "\n\n")
	}
	sb.WriteString(strings.TrimRight(t.Body, "\n"))
	sb.WriteString("\n")
	if len(t.Subtasks) > 0 {
		sb.WriteString("\n## Subtasks\n\n")
		for _, s := range t.Subtasks {
			mark := " "
			if s.Done {
				mark = "x"
			}
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", mark, s.Title))
		}
	}
	return sb.String(), nil
}
