package ingester

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentzhq/controlplane/internal/eventlog"
	"github.com/agentzhq/controlplane/internal/events"
	"github.com/agentzhq/controlplane/internal/noncekit"
	"github.com/agentzhq/controlplane/internal/paths"
)

type fakeRegistry map[string]noncekit.Nonce

func (f fakeRegistry) NonceFor(sessionID string) (noncekit.Nonce, bool) {
	n, ok := f[sessionID]
	return n, ok
}

func frameLine(t *testing.T, sessionID, nonce string, ev events.SessionEvent) string {
	t.Helper()
	raw, err := events.EncodeSessionEvent(ev)
	require.NoError(t, err)
	return `{"sessionId":"` + sessionID + `","nonce":"` + nonce + `","event":` + string(raw) + "}\n"
}

func TestServeHTTPAppendsValidFrame(t *testing.T) {
	t.Parallel()
	repoRoot := t.TempDir()
	bus := eventlog.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	registry := fakeRegistry{"sess-1": noncekit.Nonce("correct-nonce")}
	ing := New(repoRoot, bus, registry)

	ev := events.NewCliSessionID("sess-1", time.Now(), "cli-abc")
	body := frameLine(t, "sess-1", "correct-nonce", ev)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	result, err := eventlog.Read(paths.SessionStreamPath(repoRoot, "sess-1"))
	require.NoError(t, err)
	require.Len(t, result.Frames, 1)
}

func TestServeHTTPRejectsNonceMismatch(t *testing.T) {
	t.Parallel()
	repoRoot := t.TempDir()
	bus := eventlog.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	registry := fakeRegistry{"sess-1": noncekit.Nonce("correct-nonce")}
	ing := New(repoRoot, bus, registry)

	ev := events.NewCliSessionID("sess-1", time.Now(), "cli-abc")
	body := frameLine(t, "sess-1", "wrong-nonce", ev)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	result, err := eventlog.Read(paths.SessionStreamPath(repoRoot, "sess-1"))
	require.NoError(t, err)
	assert.Empty(t, result.Frames)
}

func TestServeHTTPRejectsUnknownSession(t *testing.T) {
	t.Parallel()
	repoRoot := t.TempDir()
	bus := eventlog.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	ing := New(repoRoot, bus, fakeRegistry{})

	ev := events.NewCliSessionID("sess-unknown", time.Now(), "cli-abc")
	body := frameLine(t, "sess-unknown", "anything", ev)

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeHTTPSkipsUnknownEventTypeButKeepsConnection(t *testing.T) {
	t.Parallel()
	repoRoot := t.TempDir()
	bus := eventlog.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	registry := fakeRegistry{"sess-1": noncekit.Nonce("n")}
	ing := New(repoRoot, bus, registry)

	unknown := `{"sessionId":"sess-1","nonce":"n","event":{"type":"future_kind","schemaVersion":"1","sessionId":"sess-1"}}` + "\n"
	known := frameLine(t, "sess-1", "n", events.NewCliSessionID("sess-1", time.Now(), "cli-xyz"))

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(unknown+known))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	result, err := eventlog.Read(paths.SessionStreamPath(repoRoot, "sess-1"))
	require.NoError(t, err)
	require.Len(t, result.Frames, 1)
}

func TestServeHTTPRejectsMalformedJSON(t *testing.T) {
	t.Parallel()
	repoRoot := t.TempDir()
	bus := eventlog.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	ing := New(repoRoot, bus, fakeRegistry{"sess-1": noncekit.Nonce("n")})

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{not json\n"))
	rec := httptest.NewRecorder()
	ing.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
