package events

import "time"

// ChunkKind enumerates the kinds of AgentOutputChunk a worker may emit (§3).
type ChunkKind string

const (
	ChunkText        ChunkKind = "text"
	ChunkToolUse     ChunkKind = "tool_use"
	ChunkToolResult  ChunkKind = "tool_result"
	ChunkSystem      ChunkKind = "system"
	ChunkError       ChunkKind = "error"
	ChunkThinking    ChunkKind = "thinking"
	ChunkUserMessage ChunkKind = "user_message"
)

// Attachment is an image (or other binary) attachment carried by an output chunk.
type Attachment struct {
	MimeType string `json:"mimeType"`
	DataURL  string `json:"dataUrl"`
}

// OutputChunk is an AgentOutputChunk (§3): one unit of worker output.
type OutputChunk struct {
	Kind        ChunkKind         `json:"kind"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// SessionEventType discriminates per-session stream events.
type SessionEventType string

const (
	TypeOutput       SessionEventType = "output"
	TypeCliSessionID SessionEventType = "cli_session_id"
	TypeAgentState   SessionEventType = "agent_state"
)

// SessionEvent is the envelope every per-session-stream frame is wrapped in.
// Invariant I4: SessionID must match the stream identity it is read from.
type SessionEvent struct {
	Type          SessionEventType `json:"type"`
	SchemaVersion string           `json:"schemaVersion"`
	SessionID     string           `json:"sessionId"`
	Timestamp     time.Time        `json:"timestamp"`

	Output       *OutputChunk `json:"output,omitempty"`
	CliSessionID string       `json:"cliSessionId,omitempty"`
	AgentState   []byte       `json:"agentState,omitempty"` // opaque, worker-defined
}

// NewOutput builds a well-formed output envelope.
func NewOutput(sessionID string, chunk OutputChunk) SessionEvent {
	return SessionEvent{
		Type:          TypeOutput,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     chunk.Timestamp,
		Output:        &chunk,
	}
}

// NewCliSessionID builds a well-formed cli_session_id envelope.
func NewCliSessionID(sessionID string, ts time.Time, cliSessionID string) SessionEvent {
	return SessionEvent{
		Type:          TypeCliSessionID,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     ts,
		CliSessionID:  cliSessionID,
	}
}

// NewAgentState builds a well-formed agent_state envelope.
func NewAgentState(sessionID string, ts time.Time, state []byte) SessionEvent {
	return SessionEvent{
		Type:          TypeAgentState,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     ts,
		AgentState:    state,
	}
}

// ControlEventType discriminates control-stream events (approvals flowing
// from client to worker).
type ControlEventType string

const (
	TypeApprovalResponse ControlEventType = "approval_response"
)

// ControlEvent is the envelope for the per-session control stream.
type ControlEvent struct {
	Type          ControlEventType `json:"type"`
	SchemaVersion string           `json:"schemaVersion"`
	SessionID     string           `json:"sessionId"`
	Timestamp     time.Time        `json:"timestamp"`
	Approved      bool             `json:"approved"`
}

// NewApprovalResponse builds a well-formed approval_response envelope.
func NewApprovalResponse(sessionID string, ts time.Time, approved bool) ControlEvent {
	return ControlEvent{
		Type:          TypeApprovalResponse,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     ts,
		Approved:      approved,
	}
}
