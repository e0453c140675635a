// Package store implements the durable, event-sourced persistence layer for
// runs and sessions: append-only NDJSON event logs, JSON snapshot files,
// pub/sub fan-out to SSE subscribers, one-shot approval waiters, and
// cancellation-token registration, all rooted under a single data
// directory.
package store

import "time"

// Run is a plan-oriented background job: it executes a sequence of Steps
// against a workspace and reports progress via its event log.
type Run struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Status         string    `json:"status"` // queued, planning, running, succeeded, failed, canceled
	WorkspacePath  string    `json:"workspace_path"`
	SpecPath       string    `json:"spec_path"`
	ModelCanonical string    `json:"model_canonical,omitempty"`
	Steps          []Step    `json:"steps,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Step is one unit of a Run's plan.
type Step struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Type          string     `json:"type"`
	NeedsApproval bool       `json:"needs_approval"`
	Command       string     `json:"command,omitempty"`
	Patch         string     `json:"patch,omitempty"`
	Status        string     `json:"status"` // pending, running, succeeded, failed, skipped
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Event is a single entry in a run's append-only event log.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Session is an interactive, turn-oriented agent conversation against a
// workspace.
type Session struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Status        string        `json:"status"` // active, waiting_approval, canceled, completed, error
	Mode          string        `json:"mode"`   // chat, spec
	WorkspacePath string        `json:"workspace_path"`
	SystemPrompt  string        `json:"system_prompt,omitempty"`
	SpecPath      string        `json:"spec_path,omitempty"`
	LastTurnID    string        `json:"last_turn_id,omitempty"`
	Messages      []Message     `json:"messages,omitempty"`
	Turns         []Turn        `json:"turns,omitempty"`
	Cost          SessionCost   `json:"cost"`
	Error         string        `json:"error,omitempty"`
}

// SessionCost accumulates provider-reported or estimated spend for a
// session. Fields are left untouched (not synthesized) when neither a
// provider cost nor a pricing-table entry is available for a generation.
type SessionCost struct {
	TotalUSD float64 `json:"total_usd"`
	Estimated bool   `json:"estimated"`
}

// Turn is one model-generation-plus-tool-calls cycle within a session.
type Turn struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"` // pending, running, succeeded, failed, canceled
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// MessagePart is one piece of a Message's content: plain text, a reference
// to a stored attachment, or a tool call/result.
type MessagePart struct {
	Type       string `json:"type"` // text, attachment, tool_call, tool_result
	Text       string `json:"text,omitempty"`
	Ref        string `json:"ref,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	ToolInput  any    `json:"tool_input,omitempty"`
}

// Message is one entry in a session's conversation transcript.
type Message struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"` // user, assistant, tool
	Parts      []MessagePart `json:"parts"`
	CreatedAt  time.Time     `json:"created_at"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// SessionEvent is a single entry in a session's append-only event log.
type SessionEvent struct {
	Timestamp time.Time      `json:"ts"`
	SessionID string         `json:"session_id"`
	TurnID    string         `json:"turn_id,omitempty"`
	Type      string         `json:"type"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ApprovalDecision is the human response to a pending tool-call approval.
type ApprovalDecision struct {
	Action string `json:"action"` // approve, deny
	Reason string `json:"reason,omitempty"`
}
