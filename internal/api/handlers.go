package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/services"
	"github.com/agentzhq/controlplane/internal/session"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

// servicesSpawnParams adapts the wire-level spawnRequest to
// services.SpawnParams, defaulting WorkingDir to the repo root.
func servicesSpawnParams(req spawnRequest, agentType workertypes.AgentType) services.SpawnParams {
	return services.SpawnParams{
		AgentType:   agentType,
		Prompt:      req.Prompt,
		Model:       req.Model,
		Title:       req.Title,
		TaskPath:    req.TaskPath,
		SourceFile:  req.SourceFile,
		SourceLine:  req.SourceLine,
		Attachments: req.Attachments,
	}
}

// handleList implements `list`() q: non-deleted sessions sorted by
// startedAt desc.
func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAt.After(sessions[j].StartedAt) })
	writeJSON(w, http.StatusOK, sessions)
}

// handleGet implements `get`(id) q.
func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok, err := a.svc.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierrors.NotFound("session "+id))
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// sessionWithMetadata is getSessionWithMetadata's response shape: the
// reconstructed session plus its derived changed-files view.
type sessionWithMetadata struct {
	session.Session
	ChangedFiles []session.EditedFile `json:"changedFiles"`
}

// handleGetSessionWithMetadata implements `getSessionWithMetadata`(id) q.
func (a *API) handleGetSessionWithMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok, err := a.svc.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierrors.NotFound("session "+id))
		return
	}
	writeJSON(w, http.StatusOK, sessionWithMetadata{Session: sess, ChangedFiles: sess.ChangedFiles()})
}

// handleGetChangedFiles implements `getChangedFiles`(sessionId) q (§4.3).
func (a *API) handleGetChangedFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok, err := a.svc.GetSession(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierrors.NotFound("session "+id))
		return
	}
	writeJSON(w, http.StatusOK, sess.ChangedFiles())
}

type spawnRequest struct {
	Prompt      string   `json:"prompt"`
	AgentType   string   `json:"agentType"`
	Model       string   `json:"model"`
	Title       string   `json:"title"`
	TaskPath    string   `json:"taskPath"`
	SourceFile  string   `json:"sourceFile"`
	SourceLine  int      `json:"sourceLine"`
	Attachments []string `json:"attachments"`
}

type spawnResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// handleSpawn implements `spawn`(...) m (§4.8).
func (a *API) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	agentType := workertypes.AgentType(req.AgentType)
	if req.AgentType == "" {
		agentType = workertypes.AgentClaude
	} else if !agentType.Valid() {
		writeError(w, badRequest{message: "unrecognised agentType " + req.AgentType})
		return
	}

	params := servicesSpawnParams(req, agentType)
	params.WorkingDir = a.svc.Config.RepoRoot
	id, err := a.svc.SpawnSession(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	a.svc.Telemetry.TrackEvent("session_spawned", map[string]string{"agentType": agentType.String(), "outcome": "ok"})
	writeJSON(w, http.StatusAccepted, spawnResponse{SessionID: id.String(), Status: string(workertypes.StatusPending)})
}

type cancelResponse struct {
	Success bool `json:"success"`
}

// handleCancel implements `cancel`(id) m.
func (a *API) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	success, err := a.svc.CancelSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	a.svc.Telemetry.TrackEvent("session_cancelled", map[string]string{"outcome": strconv.FormatBool(success)})
	writeJSON(w, http.StatusOK, cancelResponse{Success: success})
}

// handleDelete implements `delete`(id) m.
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.svc.DeleteSession(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	a.svc.Telemetry.TrackEvent("session_deleted", map[string]string{"outcome": "ok"})
	writeJSON(w, http.StatusOK, cancelResponse{Success: true})
}

type sendMessageRequest struct {
	Message     string   `json:"message"`
	Attachments []string `json:"attachments"`
}

// handleSendMessage implements `sendMessage`(...) m.
func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	newID, err := a.svc.SendMessage(r.Context(), id, req.Message, req.Attachments)
	if err != nil {
		writeError(w, err)
		return
	}
	a.svc.Telemetry.TrackEvent("session_message_sent", map[string]string{"outcome": "ok"})
	writeJSON(w, http.StatusAccepted, spawnResponse{SessionID: newID.String(), Status: string(workertypes.StatusPending)})
}

type approveRequest struct {
	Approved bool `json:"approved"`
}

// handleApprove implements `approve`(...) m.
func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.svc.RecordApproval(id, req.Approved); err != nil {
		writeError(w, err)
		return
	}
	a.svc.Telemetry.TrackEvent("session_approval_recorded", map[string]string{"approved": strconv.FormatBool(req.Approved)})
	writeJSON(w, http.StatusOK, cancelResponse{Success: true})
}
