package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/config"
	"github.com/agentzhq/controlplane/internal/procmon"
	"github.com/agentzhq/controlplane/internal/services"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# hi\n"), 0o644))
	run("add", "README.md")
	run("commit", "-m", "initial commit")
	return dir
}

func stubCommandBuilder(ctx context.Context, cfg procmon.SpawnConfig) (*exec.Cmd, error) {
	return exec.CommandContext(ctx, "true"), nil
}

func newTestAPI(t *testing.T) (http.Handler, *services.Services) {
	t.Helper()
	repoRoot := initRepo(t)
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.RepoRoot = repoRoot
	cfg.TelemetryOptOut = true

	svc, err := services.New(cfg)
	require.NoError(t, err)
	svc.Monitor = procmon.New(stubCommandBuilder)
	t.Cleanup(func() { _ = svc.Close() })

	return New(svc), svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSpawnThenListThenGet(t *testing.T) {
	t.Parallel()
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/sessions/", map[string]any{
		"prompt":    "fix the bug",
		"agentType": "claude",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var spawned spawnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spawned))
	assert.NotEmpty(t, spawned.SessionID)

	listRec := httptest.NewRecorder()
	h.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/sessions/", nil))
	assert.Equal(t, http.StatusOK, listRec.Code)
	assert.Contains(t, listRec.Body.String(), spawned.SessionID)

	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/sessions/"+spawned.SessionID, nil))
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestGetUnknownSessionIs404(t *testing.T) {
	t.Parallel()
	h, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions/000000000000", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpawnRejectsUnknownAgentType(t *testing.T) {
	t.Parallel()
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/sessions/", map[string]any{
		"prompt":    "fix the bug",
		"agentType": "not-a-real-agent",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelThenSendMessageSpawnsResume(t *testing.T) {
	t.Parallel()
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/sessions/", map[string]any{"prompt": "fix the bug"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var spawned spawnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spawned))

	cancelRec := httptest.NewRecorder()
	h.ServeHTTP(cancelRec, httptest.NewRequest(http.MethodPost, "/sessions/"+spawned.SessionID+"/cancel", nil))
	require.Equal(t, http.StatusOK, cancelRec.Code)

	msgRec := doJSON(t, h, http.MethodPost, "/sessions/"+spawned.SessionID+"/message", map[string]any{"message": "try again"})
	require.Equal(t, http.StatusAccepted, msgRec.Code)

	var resumed spawnResponse
	require.NoError(t, json.Unmarshal(msgRec.Body.Bytes(), &resumed))
	assert.NotEqual(t, spawned.SessionID, resumed.SessionID)
}

func TestApproveWithoutLiveDaemonIs404(t *testing.T) {
	t.Parallel()
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/sessions/000000000000/approve", map[string]any{"approved": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOverviewCountsSpawnedSession(t *testing.T) {
	t.Parallel()
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/sessions/", map[string]any{"prompt": "x"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	overviewRec := httptest.NewRecorder()
	h.ServeHTTP(overviewRec, httptest.NewRequest(http.MethodGet, "/aggregates/overview", nil))
	require.Equal(t, http.StatusOK, overviewRec.Code)

	var resp overviewResponse
	require.NoError(t, json.Unmarshal(overviewRec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, 1, resp.Active)
}
