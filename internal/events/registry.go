// Package events defines the tagged-variant event schemas for the registry
// stream, per-session streams, and the control stream (§3, §4.2), plus the
// versioned codec used to decode them.
package events

import "time"

// SchemaVersion is the current schema version stamped on every event this
// binary writes. Readers compare it using semantic-version ordering (see
// codec.go) so a future control-plane binary can tell whether it is reading
// frames written by an older or newer writer.
const SchemaVersion = "v1.0.0"

// RegistryEventType discriminates registry stream events.
type RegistryEventType string

const (
	TypeSessionCreated   RegistryEventType = "session_created"
	TypeSessionUpdated   RegistryEventType = "session_updated"
	TypeSessionCompleted RegistryEventType = "session_completed"
	TypeSessionFailed    RegistryEventType = "session_failed"
	TypeSessionCancelled RegistryEventType = "session_cancelled"
	TypeSessionDeleted   RegistryEventType = "session_deleted"
)

// TokensUsed is the last-known token accounting for a session (§3).
type TokensUsed struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// EditedFile describes one file a session touched (§3 AgentSessionMetadata).
type EditedFile struct {
	Path      string    `json:"path"`
	Operation string    `json:"operation"` // create | edit | delete
	ToolUsed  string    `json:"toolUsed"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolStat counts tool invocations by name and by class (§3).
type ToolStat struct {
	Name  string `json:"name"`
	Class string `json:"class"` // read | write | execute | other
	Count int    `json:"count"`
}

// OutputMetric carries character/token estimates for one output chunk class (§3).
type OutputMetric struct {
	Class      string `json:"class"`
	Characters int    `json:"characters"`
	Tokens     int    `json:"tokens"`
}

// Metadata is AgentSessionMetadata (§3): everything derived about a session's
// activity, attached to its terminal registry event.
type Metadata struct {
	EditedFiles      []EditedFile   `json:"editedFiles,omitempty"`
	ToolStats        []ToolStat     `json:"toolStats,omitempty"`
	OutputMetrics    []OutputMetric `json:"outputMetrics,omitempty"`
	ContextUsedRatio float64        `json:"contextUsedRatio,omitempty"`
	DurationMS       int64          `json:"durationMs,omitempty"`
	MessageCount     int            `json:"messageCount,omitempty"`
	TurnSummaries    []string       `json:"turnSummaries,omitempty"`
}

// RegistryEvent is the envelope every registry-stream frame is wrapped in.
// Exactly one of the Session* payload pointers is non-nil, selected by Type.
type RegistryEvent struct {
	Type          RegistryEventType `json:"type"`
	SchemaVersion string            `json:"schemaVersion"`
	SessionID     string            `json:"sessionId"`
	Timestamp     time.Time         `json:"timestamp"`

	Created   *SessionCreatedPayload   `json:"created,omitempty"`
	Updated   *SessionUpdatedPayload   `json:"updated,omitempty"`
	Completed *SessionCompletedPayload `json:"completed,omitempty"`
	Failed    *SessionFailedPayload    `json:"failed,omitempty"`
	// Cancelled and Deleted carry no payload beyond the envelope.
}

// SessionCreatedPayload is the body of a session_created event (§3).
type SessionCreatedPayload struct {
	Prompt      string `json:"prompt"`
	Title       string `json:"title,omitempty"`
	WorkingDir  string `json:"workingDir"`
	AgentType   string `json:"agentType"`
	Model       string `json:"model,omitempty"`
	TaskPath    string `json:"taskPath,omitempty"`
	SourceFile  string `json:"sourceFile,omitempty"`
	SourceLine  int    `json:"sourceLine,omitempty"`
	DebugRunID  string `json:"debugRunId,omitempty"`
	Resumable   bool   `json:"resumable"`
}

// SessionUpdatedPayload is the body of a session_updated event.
type SessionUpdatedPayload struct {
	Status string `json:"status"`
}

// SessionCompletedPayload is the body of a session_completed event.
type SessionCompletedPayload struct {
	Metadata   Metadata   `json:"metadata"`
	TokensUsed TokensUsed `json:"tokensUsed"`
}

// SessionFailedPayload is the body of a session_failed event.
type SessionFailedPayload struct {
	Error    string   `json:"error"`
	Metadata Metadata `json:"metadata"`
}

// NewSessionCreated builds a well-formed session_created envelope.
func NewSessionCreated(sessionID string, ts time.Time, payload SessionCreatedPayload) RegistryEvent {
	return RegistryEvent{
		Type:          TypeSessionCreated,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     ts,
		Created:       &payload,
	}
}

// NewSessionUpdated builds a well-formed session_updated envelope.
func NewSessionUpdated(sessionID string, ts time.Time, status string) RegistryEvent {
	return RegistryEvent{
		Type:          TypeSessionUpdated,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     ts,
		Updated:       &SessionUpdatedPayload{Status: status},
	}
}

// NewSessionCompleted builds a well-formed session_completed envelope.
func NewSessionCompleted(sessionID string, ts time.Time, metadata Metadata, tokens TokensUsed) RegistryEvent {
	return RegistryEvent{
		Type:          TypeSessionCompleted,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     ts,
		Completed:     &SessionCompletedPayload{Metadata: metadata, TokensUsed: tokens},
	}
}

// NewSessionFailed builds a well-formed session_failed envelope.
func NewSessionFailed(sessionID string, ts time.Time, errMsg string, metadata Metadata) RegistryEvent {
	return RegistryEvent{
		Type:          TypeSessionFailed,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		Timestamp:     ts,
		Failed:        &SessionFailedPayload{Error: errMsg, Metadata: metadata},
	}
}

// NewSessionCancelled builds a well-formed session_cancelled envelope.
func NewSessionCancelled(sessionID string, ts time.Time) RegistryEvent {
	return RegistryEvent{Type: TypeSessionCancelled, SchemaVersion: SchemaVersion, SessionID: sessionID, Timestamp: ts}
}

// NewSessionDeleted builds a well-formed session_deleted envelope (tombstone).
func NewSessionDeleted(sessionID string, ts time.Time) RegistryEvent {
	return RegistryEvent{Type: TypeSessionDeleted, SchemaVersion: SchemaVersion, SessionID: sessionID, Timestamp: ts}
}
