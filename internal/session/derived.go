package session

import (
	"encoding/json"
	"strings"

	"github.com/agentzhq/controlplane/internal/events"
)

// filePathKeys are the recognised JSON keys a tool_use chunk's content may
// carry the touched path under, tried in this order (§4.3).
var filePathKeys = []string{"path", "file_path", "file", "notebook_path"}

// editClassSubstring pairs a lower-cased tool-name substring with the
// operation class it implies.
type editClassSubstring struct {
	substr string
	class  string
}

// editClassSubstrings are matched in order against the lower-cased tool name
// to decide whether a tool_use chunk represents a file-edit operation, and
// which operation class it belongs to. Kept as an ordered slice rather than
// a map so a tool name matching more than one substring (e.g. "create" and
// "update") classifies the same way on every call.
var editClassSubstrings = []editClassSubstring{
	{"write", "create"},
	{"create", "create"},
	{"edit", "edit"},
	{"update", "edit"},
	{"delete", "delete"},
	{"remove", "delete"},
}

// IsActive reports whether sess counts as an "active session" (§4.3): not
// terminal, and not already excluded by a tombstone.
func (s Session) IsActive() bool {
	return !s.deleted && s.Status.Active()
}

// ChangedFiles implements §4.3's two derivations:
//   - for a terminal session, prefer metadata.editedFiles from the terminal
//     registry event, falling back to the live derivation if that list is
//     empty;
//   - for a non-terminal session, always use the live tool_use derivation.
func (s Session) ChangedFiles() []EditedFile {
	if s.Status.Terminal() {
		if files := metadataEditedFiles(s.Metadata); len(files) > 0 {
			return files
		}
	}
	return liveEditedFiles(s.Output)
}

func metadataEditedFiles(md events.Metadata) []EditedFile {
	if len(md.EditedFiles) == 0 {
		return nil
	}
	out := make([]EditedFile, 0, len(md.EditedFiles))
	for _, f := range md.EditedFiles {
		out = append(out, EditedFile{
			Path:      f.Path,
			Operation: f.Operation,
			ToolUsed:  f.ToolUsed,
			Timestamp: f.Timestamp,
		})
	}
	return out
}

// liveEditedFiles parses every tool_use output chunk, emitting an
// EditedFile for every one whose content JSON carries a recognised
// file-path key and whose tool name matches a create/edit/delete class.
func liveEditedFiles(output []events.OutputChunk) []EditedFile {
	var out []EditedFile
	for _, chunk := range output {
		if chunk.Kind != events.ChunkToolUse {
			continue
		}
		toolName, _ := chunk.Metadata["tool_name"].(string)
		operation, ok := classifyTool(toolName)
		if !ok {
			continue
		}
		path, ok := extractFilePath(chunk.Content)
		if !ok {
			continue
		}
		out = append(out, EditedFile{
			Path:      path,
			Operation: operation,
			ToolUsed:  toolName,
			Timestamp: chunk.Timestamp,
		})
	}
	return out
}

func classifyTool(name string) (operation string, matched bool) {
	lower := strings.ToLower(name)
	for _, c := range editClassSubstrings {
		if strings.Contains(lower, c.substr) {
			return c.class, true
		}
	}
	return "", false
}

func extractFilePath(content string) (string, bool) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return "", false
	}
	for _, key := range filePathKeys {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
