// Package telemetry sends best-effort, opt-out anonymous usage counters for
// orchestrator mutations (§4.14). Every event is dispatched from a detached
// subprocess so a flaky or slow network never adds latency to, or blocks the
// unwind of, the HTTP request that triggered it.
package telemetry

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/posthog/posthog-go"
)

var (
	// PostHogAPIKey is set at build time for production.
	PostHogAPIKey = "phc_development_key"
	// PostHogEndpoint is set at build time for production.
	PostHogEndpoint = "https://eu.i.posthog.com"
)

// SendSubcommand is the hidden CLI/daemon flag that, when present as argv[1],
// reads an EventPayload from argv[2] and sends it, then exits. Both agentctl
// and agentzd register it so either binary can be used as the detached
// sender depending on which one raised the event.
const SendSubcommand = "__send-telemetry"

// Client tracks orchestrator events. Event names and property keys must
// never carry prompt text, file contents, or other session data (§4.14).
type Client interface {
	TrackEvent(event string, properties map[string]string)
	Close()
}

// NoOpClient is used whenever telemetry is disabled.
type NoOpClient struct{}

func (NoOpClient) TrackEvent(_ string, _ map[string]string) {}
func (NoOpClient) Close()                                   {}

// silentLogger suppresses PostHog log output; timeouts are expected for
// best-effort telemetry and shouldn't be surfaced.
type silentLogger struct{}

func (silentLogger) Logf(_ string, _ ...any)   {}
func (silentLogger) Debugf(_ string, _ ...any) {}
func (silentLogger) Warnf(_ string, _ ...any)  {}
func (silentLogger) Errorf(_ string, _ ...any) {}

// New builds a Client. enabled combines the AGENTZ_TELEMETRY_OPTOUT
// environment variable and any persisted settings opt-out — either one
// disables telemetry entirely. binaryPath is the current executable's path,
// re-invoked with SendSubcommand to do the actual network call.
func New(enabled bool, binaryPath, version string) Client {
	if !enabled {
		return NoOpClient{}
	}
	if os.Getenv("AGENTZ_TELEMETRY_OPTOUT") != "" {
		return NoOpClient{}
	}
	id, err := machineid.ProtectedID("agentzhq-controlplane")
	if err != nil {
		return NoOpClient{}
	}
	return &DetachedClient{machineID: id, binaryPath: binaryPath, version: version}
}

// EventPayload is what gets marshaled to the detached subprocess's argv.
type EventPayload struct {
	Event      string            `json:"event"`
	DistinctID string            `json:"distinctId"`
	Properties map[string]string `json:"properties"`
	Timestamp  time.Time         `json:"timestamp"`
}

// DetachedClient spawns a short-lived copy of the current binary per event
// rather than holding an HTTP connection open in the serving process.
type DetachedClient struct {
	machineID  string
	binaryPath string
	version    string
}

// TrackEvent marshals the event and starts (without waiting on) a detached
// subprocess to send it. Failing to spawn is swallowed: telemetry must never
// surface as an API error.
func (c *DetachedClient) TrackEvent(event string, properties map[string]string) {
	if properties == nil {
		properties = map[string]string{}
	}
	properties["cli_version"] = c.version
	properties["os"] = runtime.GOOS
	properties["arch"] = runtime.GOARCH

	payload := EventPayload{
		Event:      event,
		DistinctID: c.machineID,
		Properties: properties,
		Timestamp:  time.Now(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}

	cmd := exec.Command(c.binaryPath, SendSubcommand, string(raw))
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	_ = cmd.Start()
}

// Close is a no-op: DetachedClient holds no long-lived connection to flush.
func (c *DetachedClient) Close() {}

// SendEvent runs in the detached subprocess (invoked as
// `<binary> __send-telemetry <payloadJSON>`): it decodes the payload and
// makes the one network call, then returns so the subprocess can exit.
func SendEvent(payloadJSON string) {
	var payload EventPayload
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
		TLSHandshakeTimeout:   2 * time.Second,
		ResponseHeaderTimeout: 2 * time.Second,
	}
	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:           PostHogEndpoint,
		ShutdownTimeout:    2 * time.Second,
		BatchUploadTimeout: 2 * time.Second,
		Transport:          transport,
		Logger:             silentLogger{},
		DisableGeoIP:       posthog.Ptr(true),
	})
	if err != nil {
		return
	}
	defer func() { _ = client.Close() }()

	props := posthog.NewProperties()
	for k, v := range payload.Properties {
		props.Set(k, v)
	}

	_ = client.Enqueue(posthog.Capture{
		DistinctId: payload.DistinctID,
		Event:      payload.Event,
		Properties: props,
		Timestamp:  payload.Timestamp,
	})
}
