package turnengine

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/agentharness/agentd/internal/contextbundle"
	"github.com/agentharness/agentd/internal/modelkit"
	"github.com/agentharness/agentd/internal/store"
)

const specModePrompt = `You are in spec-session mode.
Keep the spec as the primary artifact and update it using the write_spec tool.
The spec must include headings: # Goal, # Constraints / nuances, # Acceptance tests.`

// composeMessages builds the full model-facing message list for one
// iteration: system prompts (session, spec-mode, context, current spec),
// followed by the prepared conversation transcript.
func (e *Engine) composeMessages(session store.Session, bundle contextbundle.Bundle, supportsTools bool) []modelkit.Message {
	var out []modelkit.Message

	if strings.TrimSpace(session.SystemPrompt) != "" {
		out = append(out, systemText(session.SystemPrompt))
	}
	if session.Mode == "spec" {
		prompt := specModePrompt
		if session.SpecPath != "" {
			prompt += "\nSpec path: " + session.SpecPath
		}
		out = append(out, systemText(prompt))
	}
	if contextText := formatContext(bundle); contextText != "" {
		out = append(out, systemText(contextText))
	}
	if session.Mode == "spec" && session.SpecPath != "" {
		if data, err := os.ReadFile(session.SpecPath); err == nil && strings.TrimSpace(string(data)) != "" {
			out = append(out, systemText(fmt.Sprintf("CURRENT SPEC (%s):\n%s", session.SpecPath, string(data))))
		}
	}

	out = append(out, prepareTranscript(session.Messages, supportsTools)...)
	return out
}

// splitSystem pulls every system-role message out of messages and joins
// their text with blank lines, since GenerateInput carries the system
// prompt as a separate string rather than inline messages (providers such
// as Anthropic reject system content embedded in the message list).
func splitSystem(messages []modelkit.Message) (string, []modelkit.Message) {
	var system []string
	var rest []modelkit.Message
	for _, msg := range messages {
		if msg.Role == modelkit.RoleSystem {
			for _, part := range msg.Content {
				if part.Type == modelkit.PartText && strings.TrimSpace(part.Text) != "" {
					system = append(system, part.Text)
				}
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

func systemText(text string) modelkit.Message {
	return modelkit.Message{Role: modelkit.RoleSystem, Content: []modelkit.ContentPart{{Type: modelkit.PartText, Text: text}}}
}

func formatContext(bundle contextbundle.Bundle) string {
	formatted := bundle.Format()
	if formatted == "" {
		return ""
	}
	return "Workspace context:\n" + formatted
}

// prepareTranscript converts stored session messages into model messages,
// applying the tool-message fold appropriate to whether the resolved
// provider understands tool_use/tool_result content: providers that do not
// see every prior tool output inlined as a labeled user message instead.
func prepareTranscript(messages []store.Message, supportsTools bool) []modelkit.Message {
	seenToolUse := map[string]bool{}
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if part.Type == "tool_call" && part.ToolCallID != "" {
				seenToolUse[part.ToolCallID] = true
			}
		}
	}

	var out []modelkit.Message
	for _, msg := range messages {
		if msg.Role == "tool" {
			if supportsTools && msg.ToolCallID != "" && seenToolUse[msg.ToolCallID] {
				out = append(out, modelkit.Message{
					Role:       modelkit.RoleTool,
					ToolCallID: msg.ToolCallID,
					Content:    []modelkit.ContentPart{{Type: modelkit.PartText, Text: toolMessageText(msg.Parts)}},
				})
				continue
			}
			text := toolMessageText(msg.Parts)
			if strings.TrimSpace(text) == "" {
				text = "(no output)"
			}
			label := "TOOL OUTPUT"
			if msg.ToolCallID != "" {
				label = fmt.Sprintf("TOOL OUTPUT (%s)", msg.ToolCallID)
			}
			out = append(out, modelkit.Message{
				Role:    modelkit.RoleUser,
				Content: []modelkit.ContentPart{{Type: modelkit.PartText, Text: label + ":\n" + text}},
			})
			continue
		}

		role := modelkit.Role(msg.Role)
		var parts []modelkit.ContentPart
		for _, part := range msg.Parts {
			switch part.Type {
			case "text":
				text := part.Text
				if msg.Role == "assistant" {
					text = strings.TrimRight(text, " \t\n")
				}
				parts = append(parts, modelkit.ContentPart{Type: modelkit.PartText, Text: text})
			case "tool_call":
				if !supportsTools {
					continue
				}
				input, _ := json.Marshal(part.ToolInput)
				parts = append(parts, modelkit.ContentPart{
					Type: modelkit.PartToolUse, ToolCallID: part.ToolCallID, ToolName: part.ToolName, ToolInput: input,
				})
			case "attachment":
				if part.Ref != "" {
					parts = append(parts, modelkit.ContentPart{Type: modelkit.PartText, Text: fmt.Sprintf("[%s: %s]", part.Type, part.Ref)})
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, modelkit.Message{Role: role, Content: parts, ToolCallID: msg.ToolCallID})
	}
	return out
}

func toolMessageText(parts []store.MessagePart) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == "text" && strings.TrimSpace(part.Text) != "" {
			b.WriteString(part.Text)
		} else if part.Ref != "" {
			fmt.Fprintf(&b, "[%s: %s]", part.Type, part.Ref)
		}
	}
	return b.String()
}

// buildAssistantParts converts a model turn's text and accepted tool calls
// into the MessagePart list persisted for the assistant's message.
func buildAssistantParts(text string, calls []modelkit.ToolCall) []store.MessagePart {
	var parts []store.MessagePart
	if strings.TrimSpace(text) != "" {
		parts = append(parts, store.MessagePart{Type: "text", Text: text})
	}
	for _, call := range calls {
		var input any
		if len(call.Input) > 0 {
			_ = json.Unmarshal(call.Input, &input)
		}
		parts = append(parts, store.MessagePart{
			Type: "tool_call", ToolCallID: call.ID, ToolName: call.Name, ToolInput: input,
		})
	}
	return parts
}
