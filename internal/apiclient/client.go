// Package apiclient is agentctl's thin HTTP client for the daemon's
// Orchestrator API (§4.8). It owns none of the domain logic — every
// endpoint is a direct encode/decode wrapper around the wire shapes the
// internal/api package serves.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a running agentzd over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://127.0.0.1:4317").
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

// APIError is returned for any non-2xx response; it carries the decoded
// error body so CLI commands can render the daemon's message verbatim.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Message
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling agentzd at %s: %w", c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{StatusCode: resp.StatusCode, Kind: errBody.Kind, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Session mirrors internal/session.Session's wire shape loosely enough for
// CLI rendering without importing the daemon's internal packages.
type Session struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Prompt         string    `json:"prompt"`
	Status         string    `json:"status"`
	AgentType      string    `json:"agentType"`
	Model          string    `json:"model"`
	WorkingDir     string    `json:"workingDir"`
	WorktreePath   string    `json:"worktreePath"`
	WorktreeBranch string    `json:"worktreeBranch"`
	TaskPath       string    `json:"taskPath"`
	DebugRunID     string    `json:"debugRunId"`
	StartedAt      time.Time `json:"startedAt"`
}

func (c *Client) List(ctx context.Context) ([]Session, error) {
	var out []Session
	err := c.do(ctx, http.MethodGet, "/sessions/", nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, id string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodGet, "/sessions/"+id, nil, &out)
	return out, err
}

type SpawnRequest struct {
	Prompt      string   `json:"prompt"`
	AgentType   string   `json:"agentType,omitempty"`
	Model       string   `json:"model,omitempty"`
	Title       string   `json:"title,omitempty"`
	TaskPath    string   `json:"taskPath,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type SpawnResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (SpawnResponse, error) {
	var out SpawnResponse
	err := c.do(ctx, http.MethodPost, "/sessions/", req, &out)
	return out, err
}

type CancelResponse struct {
	Success bool `json:"success"`
}

func (c *Client) Cancel(ctx context.Context, id string) (CancelResponse, error) {
	var out CancelResponse
	err := c.do(ctx, http.MethodPost, "/sessions/"+id+"/cancel", nil, &out)
	return out, err
}

func (c *Client) Delete(ctx context.Context, id string) (CancelResponse, error) {
	var out CancelResponse
	err := c.do(ctx, http.MethodDelete, "/sessions/"+id, nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, id, message string, attachments []string) (SpawnResponse, error) {
	var out SpawnResponse
	body := map[string]any{"message": message, "attachments": attachments}
	err := c.do(ctx, http.MethodPost, "/sessions/"+id+"/message", body, &out)
	return out, err
}

func (c *Client) Approve(ctx context.Context, id string, approved bool) (CancelResponse, error) {
	var out CancelResponse
	err := c.do(ctx, http.MethodPost, "/sessions/"+id+"/approve", map[string]any{"approved": approved}, &out)
	return out, err
}

type DebugWithAgentsRequest struct {
	Prompt    string   `json:"prompt"`
	TaskPath  string   `json:"taskPath,omitempty"`
	Title     string   `json:"title,omitempty"`
	AgentType string   `json:"agentType,omitempty"`
	Count     int      `json:"count"`
	Models    []string `json:"models,omitempty"`
}

type DebugWithAgentsResponse struct {
	DebugRunID string   `json:"debugRunId"`
	SessionIDs []string `json:"sessionIds"`
}

func (c *Client) DebugWithAgents(ctx context.Context, req DebugWithAgentsRequest) (DebugWithAgentsResponse, error) {
	var out DebugWithAgentsResponse
	err := c.do(ctx, http.MethodPost, "/debug/", req, &out)
	return out, err
}

type DebugRunStatus struct {
	DebugRunID  string    `json:"debugRunId"`
	Sessions    []Session `json:"sessions"`
	AllTerminal bool      `json:"allTerminal"`
}

func (c *Client) GetDebugRunStatus(ctx context.Context, debugRunID string) (DebugRunStatus, error) {
	var out DebugRunStatus
	err := c.do(ctx, http.MethodGet, "/debug/"+debugRunID, nil, &out)
	return out, err
}

func (c *Client) OrchestrateDebugRun(ctx context.Context, debugRunID string, force bool) (SpawnResponse, error) {
	var out SpawnResponse
	err := c.do(ctx, http.MethodPost, "/debug/"+debugRunID+"/orchestrate", map[string]any{"force": force}, &out)
	return out, err
}

// Healthy reports whether agentzd is reachable, for `agentctl doctor`.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/sessions/", nil, nil)
}
