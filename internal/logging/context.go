package logging

import "context"

// Context keys for logging values. Using private types to avoid key collisions.
type contextKey int

const (
	sessionIDKey contextKey = iota
	toolCallIDKey
	componentKey
	agentTypeKey
)

// WithSession adds a session id to the context so every log call made while
// handling that session's work includes it automatically.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithToolCall adds a tool-call id to the context (set while processing a
// single tool_use/tool_result pair from a worker's output stream).
func WithToolCall(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, toolCallID)
}

// WithComponent adds a component name, identifying the subsystem generating
// logs (e.g. "worktree", "ingester", "ratelimit").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithAgentType adds the agent type of the worker being handled.
func WithAgentType(ctx context.Context, agentType string) context.Context {
	return context.WithValue(ctx, agentTypeKey, agentType)
}

// SessionIDFromContext extracts the session id from the context, or "" if unset.
func SessionIDFromContext(ctx context.Context) string { return stringFromContext(ctx, sessionIDKey) }

// ToolCallIDFromContext extracts the tool-call id from the context, or "" if unset.
func ToolCallIDFromContext(ctx context.Context) string { return stringFromContext(ctx, toolCallIDKey) }

// ComponentFromContext extracts the component name from the context, or "" if unset.
func ComponentFromContext(ctx context.Context) string { return stringFromContext(ctx, componentKey) }

// AgentTypeFromContext extracts the agent type from the context, or "" if unset.
func AgentTypeFromContext(ctx context.Context) string { return stringFromContext(ctx, agentTypeKey) }

func stringFromContext(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
