// Package session implements the pure reconstruction fold from a registry
// event sequence and a per-session event sequence into a Session snapshot
// (§4.3), plus the derived views the orchestrator API projects from it.
package session

import (
	"time"

	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

// EditedFile mirrors events.EditedFile but is the shape callers of the
// derived views consume; kept distinct from the wire schema so the
// reconstructor is free to synthesize entries that were never persisted
// (the live tool_use derivation in ChangedFiles).
type EditedFile struct {
	Path      string
	Operation string
	ToolUsed  string
	Timestamp time.Time
}

// ResumeRecord captures one resume of a session: the new cliSessionId handed
// to the resumed worker and when the resume happened.
type ResumeRecord struct {
	At           time.Time
	CliSessionID string
}

// Session is the reconstructed snapshot described in §3's Session entity.
type Session struct {
	ID         string
	Prompt     string
	Title      string
	Status     workertypes.Status
	WorkingDir string

	WorktreePath   string
	WorktreeBranch string

	AgentType workertypes.AgentType
	Model     string

	StartedAt   time.Time
	CompletedAt time.Time

	TokensUsed events.TokensUsed

	CliSessionID string
	AgentState   []byte

	TaskPath   string
	SourceFile string
	SourceLine int
	DebugRunID string

	Resumable     bool
	ResumeHistory []ResumeRecord

	Error    string
	Metadata events.Metadata

	Output []events.OutputChunk

	deleted bool
}

// Deleted reports whether a session_deleted tombstone was observed for this
// id (invariant I3). A deleted session is never returned by Reconstruct;
// this flag exists only so internal folds can short-circuit.
func (s Session) Deleted() bool { return s.deleted }
