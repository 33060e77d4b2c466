package telemetry

import "testing"

func TestNewReturnsNoOpWhenDisabled(t *testing.T) {
	client := New(false, "/usr/bin/agentzd", "1.0.0")
	if _, ok := client.(NoOpClient); !ok {
		t.Fatalf("expected NoOpClient, got %T", client)
	}
}

func TestNewReturnsNoOpWhenEnvOptOutSet(t *testing.T) {
	t.Setenv("AGENTZ_TELEMETRY_OPTOUT", "1")
	client := New(true, "/usr/bin/agentzd", "1.0.0")
	if _, ok := client.(NoOpClient); !ok {
		t.Fatalf("expected NoOpClient, got %T", client)
	}
}

func TestNoOpClientMethodsDoNotPanic(t *testing.T) {
	client := NoOpClient{}
	client.TrackEvent("session_spawned", map[string]string{"agentType": "claude"})
	client.Close()
}

func TestSendEventIgnoresMalformedPayload(t *testing.T) {
	// Must not panic on garbage input; SendEvent runs in a detached
	// subprocess and has no one to report a parse failure to.
	SendEvent("not json")
}
