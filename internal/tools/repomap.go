package tools

import (
	"context"
	"encoding/json"

	"github.com/agentharness/agentd/internal/symbols"
)

// RepoMapTool returns a formatted symbol map built from the workspace's
// ctags-backed symbol index, bounded to maxSymbols entries.
type RepoMapTool struct {
	workspace  string
	index      *symbols.Index
	maxSymbols int
}

// NewRepoMapTool returns a repo map tool scoped to workspace.
func NewRepoMapTool(workspace string, maxSymbols int) *RepoMapTool {
	if maxSymbols <= 0 {
		maxSymbols = 400
	}
	return &RepoMapTool{workspace: workspace, index: symbols.New(workspace), maxSymbols: maxSymbols}
}

func (t *RepoMapTool) Name() string                 { return "repo_map" }
func (t *RepoMapTool) Kind() Kind                    { return KindRead }
func (t *RepoMapTool) RequiresApproval() bool        { return false }
func (t *RepoMapTool) AllowWithoutApproval() bool    { return false }

func (t *RepoMapTool) Description() string {
	return "Return a symbol map (functions, classes, etc.) of the workspace."
}

func (t *RepoMapTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"max_symbols": map[string]any{"type": "integer", "minimum": 0},
		},
	})
}

func (t *RepoMapTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	var input struct {
		MaxSymbols int `json:"max_symbols"`
	}
	_ = json.Unmarshal(params, &input)
	max := t.maxSymbols
	if input.MaxSymbols > 0 {
		max = input.MaxSymbols
	}

	files, _, err := WalkFiles(t.workspace, 5000)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	repoMap, err := t.index.BuildRepoMap(ctx, files, max)
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(map[string]any{"repo_map": repoMap}), nil
}
