package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/mod/semver"
)

// ErrUnknownType is returned when a frame's discriminator is not one this
// binary understands. Per §4.2 this is a *recoverable* error: the caller
// should skip the frame and continue, not treat the stream as corrupt.
var ErrUnknownType = errors.New("events: unknown event type")

// ErrCorruptFrame is returned when a frame's type is known but a required
// field is missing. Per §4.2 this is a hard error: the frame is corrupt.
var ErrCorruptFrame = errors.New("events: corrupt frame")

// CompareSchemaVersion compares two schema version strings using semantic
// version ordering, returning -1, 0, or 1 (see golang.org/x/mod/semver.Compare).
// Malformed versions sort before well-formed ones.
func CompareSchemaVersion(a, b string) int {
	return semver.Compare(a, b)
}

// IsNewerSchema reports whether version is newer than this binary's SchemaVersion.
func IsNewerSchema(version string) bool {
	return CompareSchemaVersion(version, SchemaVersion) > 0
}

// DecodeRegistryEvent decodes a single frame's raw bytes into a RegistryEvent.
// Returns ErrUnknownType for a discriminator this binary doesn't recognise,
// and wraps ErrCorruptFrame if a known type is missing required fields.
func DecodeRegistryEvent(raw []byte) (RegistryEvent, error) {
	var ev RegistryEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return RegistryEvent{}, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	if ev.SessionID == "" {
		return RegistryEvent{}, fmt.Errorf("%w: missing sessionId", ErrCorruptFrame)
	}
	switch ev.Type {
	case TypeSessionCreated:
		if ev.Created == nil {
			return RegistryEvent{}, fmt.Errorf("%w: session_created missing payload", ErrCorruptFrame)
		}
	case TypeSessionUpdated:
		if ev.Updated == nil {
			return RegistryEvent{}, fmt.Errorf("%w: session_updated missing payload", ErrCorruptFrame)
		}
	case TypeSessionCompleted:
		if ev.Completed == nil {
			return RegistryEvent{}, fmt.Errorf("%w: session_completed missing payload", ErrCorruptFrame)
		}
	case TypeSessionFailed:
		if ev.Failed == nil {
			return RegistryEvent{}, fmt.Errorf("%w: session_failed missing payload", ErrCorruptFrame)
		}
	case TypeSessionCancelled, TypeSessionDeleted:
		// no payload required
	default:
		return RegistryEvent{}, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	return ev, nil
}

// EncodeRegistryEvent marshals ev as a single compact JSON line (no trailing newline).
func EncodeRegistryEvent(ev RegistryEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding registry event: %w", err)
	}
	return data, nil
}

// DecodeSessionEvent decodes a single frame's raw bytes into a SessionEvent.
func DecodeSessionEvent(raw []byte) (SessionEvent, error) {
	var ev SessionEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return SessionEvent{}, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	if ev.SessionID == "" {
		return SessionEvent{}, fmt.Errorf("%w: missing sessionId", ErrCorruptFrame)
	}
	switch ev.Type {
	case TypeOutput:
		if ev.Output == nil {
			return SessionEvent{}, fmt.Errorf("%w: output missing payload", ErrCorruptFrame)
		}
	case TypeCliSessionID:
		if ev.CliSessionID == "" {
			return SessionEvent{}, fmt.Errorf("%w: cli_session_id missing value", ErrCorruptFrame)
		}
	case TypeAgentState:
		// AgentState may legitimately be empty/opaque; no required field beyond the envelope.
	default:
		return SessionEvent{}, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	return ev, nil
}

// EncodeSessionEvent marshals ev as a single compact JSON line (no trailing newline).
func EncodeSessionEvent(ev SessionEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding session event: %w", err)
	}
	return data, nil
}

// DecodeControlEvent decodes a single frame's raw bytes into a ControlEvent.
func DecodeControlEvent(raw []byte) (ControlEvent, error) {
	var ev ControlEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ControlEvent{}, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	if ev.SessionID == "" {
		return ControlEvent{}, fmt.Errorf("%w: missing sessionId", ErrCorruptFrame)
	}
	switch ev.Type {
	case TypeApprovalResponse:
	default:
		return ControlEvent{}, fmt.Errorf("%w: %q", ErrUnknownType, ev.Type)
	}
	return ev, nil
}

// EncodeControlEvent marshals ev as a single compact JSON line (no trailing newline).
func EncodeControlEvent(ev ControlEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding control event: %w", err)
	}
	return data, nil
}
