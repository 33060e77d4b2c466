// Package workertypes defines the closed enumerations that make up the
// worker boot contract and session lifecycle wire surface (§6).
package workertypes

import "fmt"

// AgentType is the closed set of worker implementations the control plane
// knows how to spawn.
type AgentType string

const (
	AgentClaude   AgentType = "claude"
	AgentCodex    AgentType = "codex"
	AgentOpenCode AgentType = "opencode"
	AgentCerebras AgentType = "cerebras"
	AgentGemini   AgentType = "gemini"
	AgentMCPorter AgentType = "mcporter"
)

// ValidAgentTypes enumerates every wire-recognised agent type, in the order
// they are listed in §6, for use in CLI help text and validation errors.
var ValidAgentTypes = []AgentType{
	AgentClaude, AgentCodex, AgentOpenCode, AgentCerebras, AgentGemini, AgentMCPorter,
}

// Valid reports whether a is one of the closed set of agent types.
func (a AgentType) Valid() bool {
	for _, v := range ValidAgentTypes {
		if a == v {
			return true
		}
	}
	return false
}

func (a AgentType) String() string { return string(a) }

// ParseAgentType validates and returns s as an AgentType.
func ParseAgentType(s string) (AgentType, error) {
	a := AgentType(s)
	if !a.Valid() {
		return "", fmt.Errorf("unrecognised agent type %q (want one of %v)", s, ValidAgentTypes)
	}
	return a, nil
}

// Status is the closed session status enumeration (§6).
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusWorking          Status = "working"
	StatusWaitingApproval  Status = "waiting_approval"
	StatusWaitingInput     Status = "waiting_input"
	StatusIdle             Status = "idle"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether s is one of the three terminal statuses.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether s counts as an "active session" per §4.3's derived
// view: not terminal, and not one of the statuses excluded from that view.
func (s Status) Active() bool {
	switch s {
	case StatusPending, StatusRunning, StatusWorking, StatusWaitingApproval, StatusWaitingInput, StatusIdle:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }
