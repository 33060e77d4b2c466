package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/workertypes"
)

// overviewResponse is the "overview" aggregate: coarse counts across every
// non-deleted session (§4.8).
type overviewResponse struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (a *API) handleOverview(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	var resp overviewResponse
	resp.Total = len(sessions)
	for _, s := range sessions {
		switch {
		case s.Status.Active():
			resp.Active++
		case s.Status == workertypes.StatusCompleted:
			resp.Completed++
		case s.Status == workertypes.StatusFailed:
			resp.Failed++
		case s.Status == workertypes.StatusCancelled:
			resp.Cancelled++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleToolStats folds each terminal session's Metadata.ToolStats into one
// cross-session total per tool name.
func (a *API) handleToolStats(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	totals := make(map[string]int)
	classes := make(map[string]string)
	for _, s := range sessions {
		for _, ts := range s.Metadata.ToolStats {
			totals[ts.Name] += ts.Count
			classes[ts.Name] = ts.Class
		}
	}
	out := make([]toolStatTotal, 0, len(totals))
	for name, count := range totals {
		out = append(out, toolStatTotal{Name: name, Class: classes[name], Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	writeJSON(w, http.StatusOK, out)
}

type toolStatTotal struct {
	Name  string `json:"name"`
	Class string `json:"class"`
	Count int    `json:"count"`
}

// handleFileChanges lists every distinct edited file across non-deleted
// sessions with the count of sessions that touched it.
func (a *API) handleFileChanges(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	counts := make(map[string]int)
	for _, s := range sessions {
		for _, f := range s.ChangedFiles() {
			counts[f.Path]++
		}
	}
	out := make([]fileChangeCount, 0, len(counts))
	for path, count := range counts {
		out = append(out, fileChangeCount{Path: path, SessionCount: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	writeJSON(w, http.StatusOK, out)
}

type fileChangeCount struct {
	Path         string `json:"path"`
	SessionCount int    `json:"sessionCount"`
}

// handleSessionStats reports duration/token/message totals per session.
func (a *API) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sessionStat, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionStat{
			SessionID:    s.ID,
			Status:       string(s.Status),
			DurationMS:   s.Metadata.DurationMS,
			MessageCount: s.Metadata.MessageCount,
			TokensInput:  s.TokensUsed.Input,
			TokensOutput: s.TokensUsed.Output,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type sessionStat struct {
	SessionID    string `json:"sessionId"`
	Status       string `json:"status"`
	DurationMS   int64  `json:"durationMs"`
	MessageCount int    `json:"messageCount"`
	TokensInput  int    `json:"tokensInput"`
	TokensOutput int    `json:"tokensOutput"`
}

// handleTaskMetrics aggregates session counts and status breakdown per task.
func (a *API) handleTaskMetrics(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	byTask := make(map[string]*taskMetric)
	for _, s := range sessions {
		if s.TaskPath == "" {
			continue
		}
		m, ok := byTask[s.TaskPath]
		if !ok {
			m = &taskMetric{TaskPath: s.TaskPath}
			byTask[s.TaskPath] = m
		}
		m.SessionCount++
		if s.Status.Terminal() {
			m.TerminalCount++
		}
	}
	out := make([]taskMetric, 0, len(byTask))
	for _, m := range byTask {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskPath < out[j].TaskPath })
	writeJSON(w, http.StatusOK, out)
}

type taskMetric struct {
	TaskPath      string `json:"taskPath"`
	SessionCount  int    `json:"sessionCount"`
	TerminalCount int    `json:"terminalCount"`
}

// handleHotFiles ranks edits per path across every non-deleted terminal
// session (§4.8).
func (a *API) handleHotFiles(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	counts := make(map[string]int)
	for _, s := range sessions {
		if !s.Status.Terminal() {
			continue
		}
		for _, f := range s.ChangedFiles() {
			counts[f.Path]++
		}
	}
	out := make([]fileChangeCount, 0, len(counts))
	for path, count := range counts {
		out = append(out, fileChangeCount{Path: path, SessionCount: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionCount != out[j].SessionCount {
			return out[i].SessionCount > out[j].SessionCount
		}
		return out[i].Path < out[j].Path
	})
	writeJSON(w, http.StatusOK, out)
}

// handleToolCallDetails returns the raw tool_use/tool_result output chunks
// of every active session, for drill-down views.
func (a *API) handleToolCallDetails(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	var out []toolCallDetail
	for _, s := range sessions {
		for _, chunk := range s.Output {
			if chunk.Kind != events.ChunkToolUse && chunk.Kind != events.ChunkToolResult {
				continue
			}
			out = append(out, toolCallDetail{
				SessionID: s.ID,
				Kind:      string(chunk.Kind),
				Content:   chunk.Content,
				Timestamp: chunk.Timestamp,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type toolCallDetail struct {
	SessionID string    `json:"sessionId"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// handleDailyBuckets groups terminal sessions by local-tz YYYY-MM-DD of
// their startedAt (§4.8).
func (a *API) handleDailyBuckets(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.svc.ListSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	byDay := make(map[string]int)
	for _, s := range sessions {
		day := s.StartedAt.Local().Format("2006-01-02")
		byDay[day]++
	}
	out := make([]dailyBucket, 0, len(byDay))
	for day, count := range byDay {
		out = append(out, dailyBucket{Day: day, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	writeJSON(w, http.StatusOK, out)
}

type dailyBucket struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}
