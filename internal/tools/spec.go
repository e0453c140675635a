package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// SpecReadTool reads the spec document a spec-authoring session is working
// on.
type SpecReadTool struct {
	specPath string
}

// NewSpecReadTool returns a spec-read tool for the given spec file path.
func NewSpecReadTool(specPath string) *SpecReadTool { return &SpecReadTool{specPath: specPath} }

func (t *SpecReadTool) Name() string          { return "read_spec" }
func (t *SpecReadTool) Kind() Kind            { return KindRead }
func (t *SpecReadTool) RequiresApproval() bool { return false }
func (t *SpecReadTool) AllowWithoutApproval() bool { return true }
func (t *SpecReadTool) Description() string    { return "Read the current spec document, if any." }
func (t *SpecReadTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{"type": "object", "properties": map[string]any{}})
}

func (t *SpecReadTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	data, err := os.ReadFile(t.specPath)
	if err != nil {
		return JSONResult(map[string]any{"found": false, "content": ""}), nil
	}
	return JSONResult(map[string]any{"found": true, "content": string(data)}), nil
}

// SpecWriteTool overwrites the spec document. Writing does not require
// approval: spec authoring is the entire point of a spec-mode session, and
// gating every draft edit behind a human click would defeat the workflow.
type SpecWriteTool struct {
	specPath string
}

// NewSpecWriteTool returns a spec-write tool for the given spec file path.
func NewSpecWriteTool(specPath string) *SpecWriteTool { return &SpecWriteTool{specPath: specPath} }

func (t *SpecWriteTool) Name() string          { return "write_spec" }
func (t *SpecWriteTool) Kind() Kind            { return KindWrite }
func (t *SpecWriteTool) RequiresApproval() bool { return false }
func (t *SpecWriteTool) AllowWithoutApproval() bool { return true }
func (t *SpecWriteTool) Description() string    { return "Overwrite the spec document with new content." }
func (t *SpecWriteTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"content": map[string]any{"type": "string"}},
		"required":   []string{"content"},
	})
}

func (t *SpecWriteTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return ErrorResult("invalid parameters: " + err.Error()), nil
	}
	if strings.TrimSpace(input.Content) == "" {
		return ErrorResult("content is required"), nil
	}
	content := input.Content
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.MkdirAll(filepath.Dir(t.specPath), 0o755); err != nil {
		return ErrorResult("create directory: " + err.Error()), nil
	}
	if err := os.WriteFile(t.specPath, []byte(content), 0o644); err != nil {
		return ErrorResult("write spec: " + err.Error()), nil
	}
	return JSONResult(map[string]any{"written": true}), nil
}

// SpecValidateTool checks a spec document for the required sections.
type SpecValidateTool struct {
	specPath string
}

// NewSpecValidateTool returns a spec-validate tool for the given spec path.
func NewSpecValidateTool(specPath string) *SpecValidateTool {
	return &SpecValidateTool{specPath: specPath}
}

func (t *SpecValidateTool) Name() string          { return "validate_spec" }
func (t *SpecValidateTool) Kind() Kind            { return KindRead }
func (t *SpecValidateTool) RequiresApproval() bool { return false }
func (t *SpecValidateTool) AllowWithoutApproval() bool { return true }
func (t *SpecValidateTool) Description() string {
	return "Validate that a spec document has Goal, Constraints, and Acceptance sections."
}
func (t *SpecValidateTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"content": map[string]any{"type": "string"}},
	})
}

func (t *SpecValidateTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Content string `json:"content"`
	}
	_ = json.Unmarshal(params, &input)

	content := input.Content
	if strings.TrimSpace(content) == "" {
		data, err := os.ReadFile(t.specPath)
		if err != nil {
			return ErrorResult("spec not found"), nil
		}
		content = string(data)
	}

	ok, problems := ValidateSpecContent(content)
	return JSONResult(map[string]any{"ok": ok, "problems": problems}), nil
}

// ValidateSpecContent scans a spec document's headings for the three
// sections every spec is expected to carry.
func ValidateSpecContent(content string) (bool, []string) {
	hasGoal, hasConstraints, hasAcceptance := false, false, false
	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if !strings.HasPrefix(stripped, "#") {
			continue
		}
		lower := strings.ToLower(strings.TrimLeft(stripped, "# "))
		switch {
		case strings.HasPrefix(lower, "goal"):
			hasGoal = true
		case strings.Contains(lower, "constraint"):
			hasConstraints = true
		case strings.Contains(lower, "acceptance"):
			hasAcceptance = true
		}
	}

	var problems []string
	if !hasGoal {
		problems = append(problems, "missing heading: # Goal")
	}
	if !hasConstraints {
		problems = append(problems, "missing heading: # Constraints / nuances")
	}
	if !hasAcceptance {
		problems = append(problems, "missing heading: # Acceptance tests")
	}
	return len(problems) == 0, problems
}
