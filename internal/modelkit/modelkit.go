// Package modelkit defines the model-provider abstraction the turn and run
// engines consume: Provider.Generate and Router.Resolve. A deterministic
// stub implementation backs tests and local smoke-runs; an Anthropic-backed
// implementation serves real usage.
package modelkit

import (
	"context"
	"encoding/json"
)

// Role is a message's speaker, mirroring the transcript roles in the store
// package's Message type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// PartType tags a ContentPart's payload.
type PartType string

const (
	PartText    PartType = "text"
	PartImage   PartType = "image"
	PartFile    PartType = "file"
	PartToolUse PartType = "tool_use"
)

// ContentPart is one piece of a Message, mirroring the store package's
// MessagePart tagged union.
type ContentPart struct {
	Type       PartType        `json:"type"`
	Text       string          `json:"text,omitempty"`
	Ref        string          `json:"ref,omitempty"`
	MimeType   string          `json:"mime_type,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
}

// Message is one turn of conversation passed to a provider.
type Message struct {
	Role       Role          `json:"role"`
	Content    []ContentPart `json:"content"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// ToolDefinition is a tool's model-facing shape: name, description, and
// JSON Schema parameters, converted from tools.Definition by the turn
// engine before each Generate call.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// ToolCall is a model-requested tool invocation, as returned in a
// GenerateOutput.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Usage records token consumption for a single Generate call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// GenerateInput is one model request.
type GenerateInput struct {
	Provider string
	Model    string
	System   string
	Messages []Message
	Tools    []ToolDefinition
}

// FinishReason describes why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolUse   FinishReason = "tool_use"
	FinishMaxTokens FinishReason = "max_tokens"
)

// GenerateOutput is what a provider call returns.
type GenerateOutput struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
	// CostUSD is nil when the provider did not report cost and no pricing
	// table entry covers the model; callers must not synthesize a value in
	// that case.
	CostUSD *float64
}

// Provider is the interface every concrete model backend implements.
type Provider interface {
	// Name returns the provider identifier used for routing (e.g.
	// "anthropic", "stub").
	Name() string
	// Generate issues one model call and returns its structured result.
	Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error)
	// SupportsTools reports whether the provider's models accept tool
	// definitions and return tool_use content blocks.
	SupportsTools() bool
}

// ModelRecord describes one model a provider offers, as consumed by the
// router for constraint-based resolution.
type ModelRecord struct {
	Provider        string `json:"provider"`
	ModelID         string `json:"model_id"`
	Name            string `json:"name"`
	ContextWindow   int    `json:"context_window"`
	SupportsTools   bool   `json:"supports_tools"`
	SupportsVision  bool   `json:"supports_vision"`
	CostPerMTokIn   float64 `json:"cost_per_mtok_in,omitempty"`
	CostPerMTokOut  float64 `json:"cost_per_mtok_out,omitempty"`
}
