package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// GitStatusTool runs "git status --porcelain" in the workspace.
type GitStatusTool struct {
	workspace string
}

// NewGitStatusTool returns a git status tool scoped to workspace.
func NewGitStatusTool(workspace string) *GitStatusTool {
	return &GitStatusTool{workspace: workspace}
}

func (t *GitStatusTool) Name() string          { return "git_status" }
func (t *GitStatusTool) Kind() Kind            { return KindRead }
func (t *GitStatusTool) RequiresApproval() bool { return false }
func (t *GitStatusTool) AllowWithoutApproval() bool { return false }

func (t *GitStatusTool) Description() string {
	return "Show the working tree status via git status --porcelain."
}

func (t *GitStatusTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{"type": "object", "properties": map[string]any{}})
}

func (t *GitStatusTool) Execute(ctx context.Context, params json.RawMessage) (*Result, error) {
	if _, err := os.Stat(filepath.Join(t.workspace, ".git")); err != nil {
		return JSONResult(map[string]any{"is_git_repo": false, "status": ""}), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := buildArgCommand(runCtx, t.workspace, "git", "status", "--porcelain")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return ErrorResult("git status: " + err.Error()), nil
	}
	return JSONResult(map[string]any{"is_git_repo": true, "status": out.String()}), nil
}
