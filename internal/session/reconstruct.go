package session

import (
	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

// Reconstruct implements §4.3's algorithm: fold the full registry event
// sequence and the full per-session event sequence for id into a Session
// snapshot. It is a pure function — no side effects, no wall-clock reads —
// so identical inputs always yield an identical result (P1, P2).
//
// registry and sessionEvents need not be pre-filtered to id: Reconstruct
// ignores every registry event whose SessionID != id, and per invariant I4
// a well-formed per-session stream only ever contains id's own events, but
// Reconstruct defensively ignores any that don't match anyway.
//
// Returns (Session{}, false) if id is absent: no session_created was found,
// or a session_deleted tombstone exists for it (step 1, invariant I3).
func Reconstruct(id string, registry []events.RegistryEvent, sessionEvents []events.SessionEvent) (Session, bool) {
	var created *events.RegistryEvent
	deleted := false

	for i := range registry {
		ev := registry[i]
		if ev.SessionID != id {
			continue
		}
		switch ev.Type {
		case events.TypeSessionCreated:
			if created == nil {
				created = &registry[i]
			}
		case events.TypeSessionDeleted:
			deleted = true
		}
	}

	if created == nil || deleted {
		return Session{}, false
	}

	payload := created.Created
	sess := Session{
		ID:         id,
		Prompt:     payload.Prompt,
		Title:      payload.Title,
		Status:     workertypes.StatusPending,
		WorkingDir: payload.WorkingDir,
		AgentType:  workertypes.AgentType(payload.AgentType),
		Model:      payload.Model,
		StartedAt:  created.Timestamp,
		TaskPath:   payload.TaskPath,
		SourceFile: payload.SourceFile,
		SourceLine: payload.SourceLine,
		DebugRunID: payload.DebugRunID,
	}

	// Step 3: walk the registry forward again, applying every event with
	// sessionId == id in append order (session_created already consumed).
	for i := range registry {
		ev := registry[i]
		if ev.SessionID != id {
			continue
		}
		switch ev.Type {
		case events.TypeSessionUpdated:
			sess.Status = workertypes.Status(ev.Updated.Status)
		case events.TypeSessionCompleted:
			sess.Status = workertypes.StatusCompleted
			sess.CompletedAt = ev.Timestamp
			sess.Metadata = ev.Completed.Metadata
			sess.TokensUsed = ev.Completed.TokensUsed
		case events.TypeSessionFailed:
			sess.Status = workertypes.StatusFailed
			sess.CompletedAt = ev.Timestamp
			sess.Error = ev.Failed.Error
			sess.Metadata = ev.Failed.Metadata
		case events.TypeSessionCancelled:
			sess.Status = workertypes.StatusCancelled
			sess.CompletedAt = ev.Timestamp
		}
	}

	// Steps 4-5: fold the per-session stream.
	for _, ev := range sessionEvents {
		if ev.SessionID != id {
			continue
		}
		switch ev.Type {
		case events.TypeOutput:
			sess.Output = append(sess.Output, *ev.Output)
		case events.TypeCliSessionID:
			sess.CliSessionID = ev.CliSessionID
		case events.TypeAgentState:
			sess.AgentState = ev.AgentState
		}
	}

	// Step 6.
	sess.Resumable = sess.Status != workertypes.StatusCancelled

	return sess, true
}

// ReconstructAll folds the registry once into a Session per id that has a
// session_created event and no tombstone, then folds each id's per-session
// stream via sessionsFor. Intended for the bulk "list" / aggregate paths so
// the registry is only walked once per reconstructed id, not once per event.
func ReconstructAll(registry []events.RegistryEvent, sessionsFor func(id string) []events.SessionEvent) []Session {
	order := make([]string, 0)
	seen := make(map[string]bool)
	for _, ev := range registry {
		if ev.Type != events.TypeSessionCreated {
			continue
		}
		if !seen[ev.SessionID] {
			seen[ev.SessionID] = true
			order = append(order, ev.SessionID)
		}
	}

	sessions := make([]Session, 0, len(order))
	for _, id := range order {
		sess, ok := Reconstruct(id, registry, sessionsFor(id))
		if !ok {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions
}
