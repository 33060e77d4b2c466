// Package api implements the Orchestrator API (§4.8): the HTTP surface
// through which CLIs and UIs query and mutate session/task state. Every
// mutation that carries a user id passes through the rate limiter (§4.7)
// before reaching the underlying Services method.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentzhq/controlplane/internal/apierrors"
	"github.com/agentzhq/controlplane/internal/logging"
	"github.com/agentzhq/controlplane/internal/services"
)

// API wires a *services.Services into chi routes.
type API struct {
	svc *services.Services
}

// New builds the router. Callers mount it directly or serve it.
func New(svc *services.Services) http.Handler {
	a := &API{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", a.handleList)
		r.Post("/", a.handleSpawn)
		r.Get("/{id}", a.handleGet)
		r.Get("/{id}/metadata", a.handleGetSessionWithMetadata)
		r.Get("/{id}/changed-files", a.handleGetChangedFiles)
		r.Post("/{id}/cancel", a.handleCancel)
		r.Delete("/{id}", a.handleDelete)
		r.Post("/{id}/message", a.handleSendMessage)
		r.Post("/{id}/approve", a.handleApprove)
	})

	r.Route("/debug", func(r chi.Router) {
		r.Post("/", a.handleDebugWithAgents)
		r.Get("/{debugRunId}", a.handleGetDebugRunStatus)
		r.Post("/{debugRunId}/orchestrate", a.handleOrchestrateDebugRun)
	})

	r.Route("/aggregates", func(r chi.Router) {
		r.Get("/overview", a.handleOverview)
		r.Get("/tool-stats", a.handleToolStats)
		r.Get("/file-changes", a.handleFileChanges)
		r.Get("/session-stats", a.handleSessionStats)
		r.Get("/task-metrics", a.handleTaskMetrics)
		r.Get("/hot-files", a.handleHotFiles)
		r.Get("/tool-call-details", a.handleToolCallDetails)
		r.Get("/daily-buckets", a.handleDailyBuckets)
	})

	r.Post("/ingest", svc.Ingester.ServeHTTP)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Info(r.Context(), "http request", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// badRequest is a local error kind for request-decoding failures, which
// don't belong to §7's closed apierrors.Kind set since they never reach
// past the HTTP boundary.
type badRequest struct{ message string }

func (e badRequest) Error() string { return e.message }

func writeError(w http.ResponseWriter, err error) {
	if br, ok := err.(badRequest); ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": br.message})
		return
	}

	var apiErr *apierrors.Error
	if !errors.As(err, &apiErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch apiErr.Kind {
	case apierrors.KindNotFound:
		status = http.StatusNotFound
	case apierrors.KindInvalidPath, apierrors.KindInvalidBranchName:
		status = http.StatusBadRequest
	case apierrors.KindConflict, apierrors.KindVersionConflict:
		status = http.StatusConflict
	case apierrors.KindBusy:
		status = http.StatusConflict
	case apierrors.KindRateLimited:
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", apiErr.RetryAfter.String())
	case apierrors.KindNotARepo, apierrors.KindGitFailure, apierrors.KindWorkerLost:
		status = http.StatusInternalServerError
	}

	body := map[string]any{"error": apiErr.Message, "kind": string(apiErr.Kind)}
	if apiErr.RetryAfter > 0 {
		body["retryAfterSeconds"] = int(apiErr.RetryAfter.Seconds())
	}
	if apiErr.CurrentVersion != 0 {
		body["currentVersion"] = apiErr.CurrentVersion
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest{message: "malformed request body: " + err.Error()}
	}
	return nil
}
