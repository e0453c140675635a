package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// EditTool applies one or more find/replace edits to a file in place.
type EditTool struct {
	resolver resolver
}

// NewEditTool returns an edit tool scoped to workspace.
func NewEditTool(workspace string) *EditTool {
	return &EditTool{resolver: newResolver(workspace)}
}

func (t *EditTool) Name() string          { return "edit_file" }
func (t *EditTool) Kind() Kind            { return KindWrite }
func (t *EditTool) RequiresApproval() bool { return true }
func (t *EditTool) AllowWithoutApproval() bool { return false }

func (t *EditTool) Description() string {
	return "Apply one or more find/replace edits to a file in the workspace."
}

func (t *EditTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path to edit, relative to workspace."},
			"edits": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"old_text":    map[string]any{"type": "string"},
						"new_text":    map[string]any{"type": "string"},
						"replace_all": map[string]any{"type": "boolean"},
					},
					"required": []string{"old_text", "new_text"},
				},
			},
		},
		"required": []string{"path", "edits"},
	})
}

func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		Path  string `json:"path"`
		Edits []struct {
			OldText    string `json:"old_text"`
			NewText    string `json:"new_text"`
			ReplaceAll bool   `json:"replace_all"`
		} `json:"edits"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return ErrorResult("path is required"), nil
	}
	if len(input.Edits) == 0 {
		return ErrorResult("edits are required"), nil
	}

	resolved, err := t.resolver.resolve(input.Path)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("read file: %v", err)), nil
	}

	content := string(data)
	replacements := 0
	for _, edit := range input.Edits {
		if edit.OldText == "" {
			return ErrorResult("old_text is required"), nil
		}
		if !strings.Contains(content, edit.OldText) {
			return ErrorResult("old_text not found"), nil
		}
		if edit.ReplaceAll {
			count := strings.Count(content, edit.OldText)
			content = strings.ReplaceAll(content, edit.OldText, edit.NewText)
			replacements += count
		} else {
			content = strings.Replace(content, edit.OldText, edit.NewText, 1)
			replacements++
		}
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("write file: %v", err)), nil
	}

	return JSONResult(map[string]any{
		"path":         input.Path,
		"replacements": replacements,
	}), nil
}
