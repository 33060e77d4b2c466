package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

func TestReconstructAbsentWithoutCreated(t *testing.T) {
	t.Parallel()

	_, ok := Reconstruct("deadbeef0001", nil, nil)
	assert.False(t, ok)
}

func TestReconstructSpawnAndComplete(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC)
	id := "deadbeef0001"

	registry := []events.RegistryEvent{
		events.NewSessionCreated(id, now, events.SessionCreatedPayload{
			Prompt:    "list files",
			AgentType: "claude",
		}),
		events.NewSessionCompleted(id, now.Add(time.Minute), events.Metadata{}, events.TokensUsed{Input: 5, Output: 3}),
	}
	sessionEvents := []events.SessionEvent{
		events.NewOutput(id, events.OutputChunk{Kind: events.ChunkText, Content: "hello", Timestamp: now.Add(30 * time.Second)}),
	}

	sess, ok := Reconstruct(id, registry, sessionEvents)
	require.True(t, ok)
	assert.Equal(t, workertypes.StatusCompleted, sess.Status)
	assert.Len(t, sess.Output, 1)
	assert.Equal(t, events.TokensUsed{Input: 5, Output: 3}, sess.TokensUsed)
	assert.True(t, sess.Resumable)
}

func TestReconstructIgnoresOtherSessions(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	id := "aaaaaaaaaaaa"
	other := "bbbbbbbbbbbb"

	registry := []events.RegistryEvent{
		events.NewSessionCreated(id, now, events.SessionCreatedPayload{Prompt: "p1", AgentType: "claude"}),
		events.NewSessionCreated(other, now, events.SessionCreatedPayload{Prompt: "p2", AgentType: "codex"}),
		events.NewSessionCompleted(other, now.Add(time.Minute), events.Metadata{}, events.TokensUsed{}),
	}

	sess, ok := Reconstruct(id, registry, nil)
	require.True(t, ok)
	assert.Equal(t, workertypes.StatusPending, sess.Status)

	withoutOther := registry[:1]
	sessPure, ok := Reconstruct(id, withoutOther, nil)
	require.True(t, ok)
	assert.Equal(t, sess, sessPure, "P1: reconstruct must depend only on the sub-sequence for this session")
}

func TestReconstructIdempotentUnderEventDuplication(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	id := "cccccccccccc"
	registry := []events.RegistryEvent{
		events.NewSessionCreated(id, now, events.SessionCreatedPayload{Prompt: "p", AgentType: "claude"}),
		events.NewSessionUpdated(id, now.Add(time.Second), "running"),
	}

	once, ok := Reconstruct(id, registry, nil)
	require.True(t, ok)

	twice, ok := Reconstruct(id, append(append([]events.RegistryEvent{}, registry...), registry...), nil)
	require.True(t, ok)

	assert.Equal(t, once.Status, twice.Status, "P2: replay must not change the folded status")
}

func TestReconstructDeletedIsAbsent(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	id := "ffffffffffff"
	registry := []events.RegistryEvent{
		events.NewSessionCreated(id, now, events.SessionCreatedPayload{Prompt: "p", AgentType: "claude"}),
		events.NewSessionDeleted(id, now.Add(time.Second)),
	}

	_, ok := Reconstruct(id, registry, nil)
	assert.False(t, ok, "P3: a tombstone excludes the session from reconstruction regardless of later events")
}

func TestReconstructNonCreatedEventIsIgnored(t *testing.T) {
	t.Parallel()

	// Invariant I2: a session id appearing in a non-session_created event
	// without a preceding session_created is ignored.
	now := time.Now().UTC()
	id := "1111aaaaaaaa"
	registry := []events.RegistryEvent{
		events.NewSessionUpdated(id, now, "running"),
	}

	_, ok := Reconstruct(id, registry, nil)
	assert.False(t, ok)
}

func TestReconstructAllSkipsDeletedAndUnknown(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	live := "1234567890ab"
	gone := "abcdefabcdef"

	registry := []events.RegistryEvent{
		events.NewSessionCreated(live, now, events.SessionCreatedPayload{Prompt: "p1", AgentType: "claude"}),
		events.NewSessionCreated(gone, now, events.SessionCreatedPayload{Prompt: "p2", AgentType: "codex"}),
		events.NewSessionDeleted(gone, now.Add(time.Second)),
	}

	sessions := ReconstructAll(registry, func(id string) []events.SessionEvent { return nil })
	require.Len(t, sessions, 1)
	assert.Equal(t, live, sessions[0].ID)
}

func TestChangedFilesPrefersTerminalMetadata(t *testing.T) {
	t.Parallel()

	sess := Session{
		Status: workertypes.StatusCompleted,
		Metadata: events.Metadata{
			EditedFiles: []events.EditedFile{{Path: "src/x.ts", Operation: "edit", ToolUsed: "edit_file"}},
		},
	}
	files := sess.ChangedFiles()
	require.Len(t, files, 1)
	assert.Equal(t, "src/x.ts", files[0].Path)
}

func TestChangedFilesLiveDerivationForRunningSession(t *testing.T) {
	t.Parallel()

	sess := Session{
		Status: workertypes.StatusWorking,
		Output: []events.OutputChunk{
			{
				Kind:     events.ChunkToolUse,
				Content:  `{"path":"src/y.ts"}`,
				Metadata: map[string]any{"tool_name": "edit_file"},
			},
			{
				Kind:     events.ChunkToolUse,
				Content:  `{"path":"src/z.ts"}`,
				Metadata: map[string]any{"tool_name": "read_file"},
			},
		},
	}
	files := sess.ChangedFiles()
	require.Len(t, files, 1)
	assert.Equal(t, "src/y.ts", files[0].Path)
	assert.Equal(t, "edit", files[0].Operation)
}

func TestChangedFilesFallsBackWhenTerminalMetadataEmpty(t *testing.T) {
	t.Parallel()

	sess := Session{
		Status: workertypes.StatusCompleted,
		Output: []events.OutputChunk{
			{
				Kind:     events.ChunkToolUse,
				Content:  `{"file_path":"src/w.ts"}`,
				Metadata: map[string]any{"tool_name": "create_file"},
			},
		},
	}
	files := sess.ChangedFiles()
	require.Len(t, files, 1)
	assert.Equal(t, "src/w.ts", files[0].Path)
}

func TestIsActiveExcludesTerminalAndDeleted(t *testing.T) {
	t.Parallel()

	assert.True(t, Session{Status: workertypes.StatusWaitingApproval}.IsActive())
	assert.False(t, Session{Status: workertypes.StatusCompleted}.IsActive())
	assert.False(t, Session{Status: workertypes.StatusPending, deleted: true}.IsActive())
}
