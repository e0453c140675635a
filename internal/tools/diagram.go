package tools

import (
	"context"
	"encoding/json"
	"time"

	harnessexec "github.com/agentharness/agentd/internal/exec"
)

// DiagramTool renders architecture diagrams by running the workspace's
// "make diagrams" target. It is a thin exec wrapper: the daemon has no
// diagram-rendering logic of its own, the same way RunEngine's diagram step
// type degrades to a command step.
type DiagramTool struct {
	workspace string
}

// NewDiagramTool returns a diagram tool scoped to workspace.
func NewDiagramTool(workspace string) *DiagramTool {
	return &DiagramTool{workspace: workspace}
}

func (t *DiagramTool) Name() string               { return "diagram" }
func (t *DiagramTool) Kind() Kind                 { return KindExec }
func (t *DiagramTool) RequiresApproval() bool      { return true }
func (t *DiagramTool) AllowWithoutApproval() bool  { return false }

func (t *DiagramTool) Description() string {
	return `Render architecture diagrams by running the workspace's "make diagrams" target.`
}

func (t *DiagramTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{"type": "object", "properties": map[string]any{}})
}

func (t *DiagramTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	result, err := harnessexec.Run(ctx, harnessexec.Options{
		Command:        "make diagrams",
		Dir:            t.workspace,
		Timeout:        10 * time.Minute,
		MaxOutputBytes: maxShellOutputBytes,
	})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return JSONResult(result), nil
}
