package api

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/services"
	"github.com/agentzhq/controlplane/internal/session"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

const (
	maxDebugOutputPerSession = 30 * 1024
	maxDebugOutputTotal      = 100 * 1024
)

type debugWithAgentsRequest struct {
	Prompt    string   `json:"prompt"`
	TaskPath  string   `json:"taskPath"`
	Title     string   `json:"title"`
	AgentType string   `json:"agentType"`
	Count     int      `json:"count"`
	Models    []string `json:"models"`
}

type debugWithAgentsResponse struct {
	DebugRunID string   `json:"debugRunId"`
	SessionIDs []string `json:"sessionIds"`
}

// handleDebugWithAgents implements `debugWithAgents`: spawn N workers
// sharing a prompt and taskPath under one debugRunId, with distinct
// sessionIds and titles "Debug (i): …" (§4.8).
func (a *API) handleDebugWithAgents(w http.ResponseWriter, r *http.Request) {
	var req debugWithAgentsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Count < 1 {
		req.Count = 1
	}
	agentType := workertypes.AgentType(req.AgentType)
	if req.AgentType == "" {
		agentType = workertypes.AgentClaude
	} else if !agentType.Valid() {
		writeError(w, badRequest{message: "unrecognised agentType " + req.AgentType})
		return
	}

	debugRunID, err := newULID()
	if err != nil {
		writeError(w, err)
		return
	}

	ids := make([]string, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		model := req.Model(i)
		id, err := a.svc.SpawnSession(r.Context(), services.SpawnParams{
			AgentType:  agentType,
			Prompt:     req.Prompt,
			WorkingDir: a.svc.Config.RepoRoot,
			Model:      model,
			TaskPath:   req.TaskPath,
			Title:      fmt.Sprintf("Debug (%d): %s", i+1, req.Title),
			DebugRunID: debugRunID,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		ids = append(ids, id.String())
	}

	a.svc.Telemetry.TrackEvent("debug_with_agents", map[string]string{
		"agentType": agentType.String(),
		"count":     strconv.Itoa(req.Count),
	})
	writeJSON(w, http.StatusAccepted, debugWithAgentsResponse{DebugRunID: debugRunID, SessionIDs: ids})
}

// Model returns the i-th requested model, or "" if fewer were given than
// Count (the spawn then falls back to each agent's own default).
func (req debugWithAgentsRequest) Model(i int) string {
	if i < len(req.Models) {
		return req.Models[i]
	}
	return ""
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// newULID generates a debugRunId: a lexically sortable, collision-resistant
// identifier in the same family as the event bus's message ids.
func newULID() (string, error) {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	id, err := ulid.New(ulid.Now(), ulidEntropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type debugRunStatusResponse struct {
	DebugRunID string            `json:"debugRunId"`
	Sessions   []session.Session `json:"sessions"`
	AllTerminal bool             `json:"allTerminal"`
}

func (a *API) sessionsForDebugRun(debugRunID string) ([]session.Session, error) {
	all, err := a.svc.ListSessions()
	if err != nil {
		return nil, err
	}
	var out []session.Session
	for _, s := range all {
		if s.DebugRunID == debugRunID {
			out = append(out, s)
		}
	}
	return out, nil
}

// handleGetDebugRunStatus implements `getDebugRunStatus`(debugRunId).
func (a *API) handleGetDebugRunStatus(w http.ResponseWriter, r *http.Request) {
	debugRunID := chi.URLParam(r, "debugRunId")
	sessions, err := a.sessionsForDebugRun(debugRunID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(sessions) == 0 {
		writeError(w, apierrors.NotFound("debug run "+debugRunID))
		return
	}

	allTerminal := true
	for _, s := range sessions {
		if !s.Status.Terminal() {
			allTerminal = false
			break
		}
	}
	writeJSON(w, http.StatusOK, debugRunStatusResponse{DebugRunID: debugRunID, Sessions: sessions, AllTerminal: allTerminal})
}

type orchestrateDebugRunRequest struct {
	Force bool `json:"force"`
}

// handleOrchestrateDebugRun implements `orchestrateDebugRun`(debugRunId,
// taskPath, force?) (§4.8): idempotent unless force, refuses until every
// sibling session is terminal, then spawns one synthesis session over
// truncated sibling output.
func (a *API) handleOrchestrateDebugRun(w http.ResponseWriter, r *http.Request) {
	debugRunID := chi.URLParam(r, "debugRunId")
	var req orchestrateDebugRunRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	siblings, err := a.sessionsForDebugRun(debugRunID)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(siblings) == 0 {
		writeError(w, apierrors.NotFound("debug run "+debugRunID))
		return
	}

	if !req.Force {
		for _, s := range siblings {
			if strings.HasPrefix(s.Title, "Orchestrator: ") {
				writeJSON(w, http.StatusOK, spawnResponse{SessionID: s.ID, Status: string(s.Status)})
				return
			}
		}
	}

	for _, s := range siblings {
		if !s.Status.Terminal() {
			writeError(w, apierrors.Conflict("not every sibling session has reached a terminal status"))
			return
		}
	}

	prompt := buildOrchestratorPrompt(siblings)
	title := ""
	if len(siblings) > 0 {
		title = "Orchestrator: " + trimDebugPrefix(siblings[0].Title)
	}

	id, err := a.svc.SpawnSession(r.Context(), services.SpawnParams{
		AgentType:  siblings[0].AgentType,
		Prompt:     prompt,
		WorkingDir: a.svc.Config.RepoRoot,
		TaskPath:   siblings[0].TaskPath,
		Title:      title,
		DebugRunID: debugRunID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, spawnResponse{SessionID: id.String(), Status: string(workertypes.StatusPending)})
}

// buildOrchestratorPrompt concatenates each sibling's terminal output,
// truncated to maxDebugOutputPerSession bytes each and maxDebugOutputTotal
// bytes overall (§4.8).
func buildOrchestratorPrompt(siblings []session.Session) string {
	var total int
	var b strings.Builder
	for _, s := range siblings {
		chunk := sessionOutputText(s)
		if len(chunk) > maxDebugOutputPerSession {
			chunk = chunk[:maxDebugOutputPerSession]
		}
		if total+len(chunk) > maxDebugOutputTotal {
			remaining := maxDebugOutputTotal - total
			if remaining < 0 {
				remaining = 0
			}
			chunk = chunk[:remaining]
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", s.Title, chunk)
		total += len(chunk)
		if total >= maxDebugOutputTotal {
			break
		}
	}
	return b.String()
}

func sessionOutputText(s session.Session) string {
	var b strings.Builder
	for _, chunk := range s.Output {
		b.WriteString(chunk.Content)
	}
	return b.String()
}

func trimDebugPrefix(title string) string {
	idx := strings.Index(title, ":")
	if idx == -1 {
		return title
	}
	return strings.TrimSpace(title[idx+1:])
}
