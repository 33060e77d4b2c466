// Package ingester implements the Worker Chunk Ingester (§4.9): the
// HTTP endpoint a spawned worker posts its framed per-session events to.
package ingester

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/agentzhq/controlplane/internal/eventlog"
	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/logging"
	"github.com/agentzhq/controlplane/internal/noncekit"
	"github.com/agentzhq/controlplane/internal/paths"
)

// maxFrameBytes bounds a single ingested line; generous enough for an output
// chunk carrying a base64 image attachment.
const maxFrameBytes = 16 * 1024 * 1024

// NonceRegistry resolves the nonce handed out at spawn time for a session,
// so the ingester can authenticate incoming frames without owning spawn
// bookkeeping itself.
type NonceRegistry interface {
	NonceFor(sessionID string) (noncekit.Nonce, bool)
}

// Frame is the wire shape of one POSTed line (§6): {sessionId, nonce, event}.
type Frame struct {
	SessionID string          `json:"sessionId"`
	Nonce     string          `json:"nonce"`
	Event     json.RawMessage `json:"event"`
}

// Ingester validates and durably appends worker-posted frames.
type Ingester struct {
	repoRoot string
	bus      *eventlog.Bus
	nonces   NonceRegistry
}

// New constructs an Ingester rooted at repoRoot.
func New(repoRoot string, bus *eventlog.Bus, nonces NonceRegistry) *Ingester {
	return &Ingester{repoRoot: repoRoot, bus: bus, nonces: nonces}
}

// ServeHTTP implements the chunk-ingestion endpoint. The request body is a
// stream of newline-delimited JSON frames; each is independently validated.
// On nonce mismatch or a corrupt frame, the frame is discarded and the
// connection is closed — no retry is attempted on the worker's behalf (§4.9).
func (ing *Ingester) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)

	accepted := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !ing.handleFrame(r, line) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		accepted++
	}
	if err := scanner.Err(); err != nil {
		logging.Warn(r.Context(), "ingester: reading request body failed", "error", err.Error())
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// handleFrame processes one line, returning false if the connection must be
// closed (nonce mismatch or a malformed frame).
func (ing *Ingester) handleFrame(r *http.Request, line []byte) bool {
	var frame Frame
	if err := json.Unmarshal(line, &frame); err != nil {
		logging.Warn(r.Context(), "ingester: discarding malformed frame", "error", err.Error())
		return false
	}

	nonce, ok := ing.nonces.NonceFor(frame.SessionID)
	if !ok || !nonce.Equal(frame.Nonce) {
		logging.Warn(r.Context(), "ingester: nonce mismatch, closing connection", "session_id", frame.SessionID)
		return false
	}

	ev, err := events.DecodeSessionEvent(frame.Event)
	if err != nil {
		if errors.Is(err, events.ErrUnknownType) {
			// forward-compatible: a newer worker sent a kind this binary
			// doesn't know yet. Skip it, keep the connection open (§4.2).
			return true
		}
		logging.Warn(r.Context(), "ingester: discarding corrupt frame", "session_id", frame.SessionID, "error", err.Error())
		return false
	}

	if ev.SessionID != frame.SessionID {
		// Invariant I4: an event's own sessionId must match the stream it
		// arrived on. Reject at ingest rather than letting Reconstruct filter
		// it out later.
		logging.Warn(r.Context(), "ingester: discarding frame with foreign session id", "session_id", frame.SessionID, "event_session_id", ev.SessionID)
		return false
	}

	raw, err := events.EncodeSessionEvent(ev)
	if err != nil {
		logging.Warn(r.Context(), "ingester: re-encoding event failed", "session_id", frame.SessionID, "error", err.Error())
		return false
	}

	path := paths.SessionStreamPath(ing.repoRoot, frame.SessionID)
	if err := eventlog.Append(path, raw); err != nil {
		logging.Error(r.Context(), "ingester: append failed", "session_id", frame.SessionID, "error", err.Error())
		return false
	}
	_ = ing.bus.Publish(path, raw) // best-effort live tail; durability already satisfied by Append

	return true
}
